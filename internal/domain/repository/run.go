package repository

import (
	"context"
	"errors"
	"time"

	"github.com/payrollx/payrun/internal/domain/model"
)

// ErrRunNotFound is the error returned when a PayrollRun is not found.
var ErrRunNotFound = errors.New("payroll run not found")

// PayrollRunRepository defines persistence operations for payroll runs.
type PayrollRunRepository interface {
	// SaveRun persists a new PayrollRun together with its items atomically.
	// Partial creation must never be observable.
	SaveRun(ctx context.Context, run *model.PayrollRun) error

	// UpdateRun updates the state of an existing PayrollRun with an
	// optimistic version check. A lost update surfaces
	// exception.ErrOptimisticLockFailure.
	UpdateRun(ctx context.Context, run *model.PayrollRun) error

	// FindRunByID finds a PayrollRun by its ID, with its items loaded.
	// Soft-deleted runs are not returned.
	FindRunByID(ctx context.Context, runID string) (*model.PayrollRun, error)

	// FindRunsByOrganization finds all runs for an organization, newest
	// first, with items loaded. Soft-deleted runs are excluded.
	FindRunsByOrganization(ctx context.Context, organizationID string) ([]*model.PayrollRun, error)

	// FindDueRuns finds all DRAFT runs whose scheduled time has passed and
	// that are not soft-deleted. Used by the due-run sweep.
	FindDueRuns(ctx context.Context, now time.Time) ([]*model.PayrollRun, error)
}
