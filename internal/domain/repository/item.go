package repository

import (
	"context"
	"errors"

	"github.com/payrollx/payrun/internal/domain/model"
)

// ErrItemNotFound is the error returned when a PayrollItem is not found.
var ErrItemNotFound = errors.New("payroll item not found")

// PayrollItemRepository defines persistence operations for payroll items.
// Item state is only ever written through the orchestrator components; there
// is no direct mutation entry point.
type PayrollItemRepository interface {
	// UpdateItem updates the state of an existing PayrollItem with an
	// optimistic version check. A lost update surfaces
	// exception.ErrOptimisticLockFailure.
	UpdateItem(ctx context.Context, item *model.PayrollItem) error

	// FindItemByID finds a PayrollItem by its ID. Soft-deleted items are
	// not returned.
	FindItemByID(ctx context.Context, itemID string) (*model.PayrollItem, error)

	// FindItemsByRun finds all items belonging to the given run, including
	// soft-deleted ones when the run itself is deleted. The caller gets a
	// consistent snapshot of the item set at the time of the read.
	FindItemsByRun(ctx context.Context, runID string) ([]*model.PayrollItem, error)

	// FindRetryableItems finds all FAILED items with a retry count below
	// maxRetries, not soft-deleted. Used by the retry sweep.
	FindRetryableItems(ctx context.Context, maxRetries int) ([]*model.PayrollItem, error)
}
