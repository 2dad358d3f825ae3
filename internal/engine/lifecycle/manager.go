package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/payrollx/payrun/internal/client/directory"
	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/engine/settlement"
	"github.com/payrollx/payrun/internal/metrics"
	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

const ModuleLifecycleManager = "lifecycle_manager"

// updateAttempts bounds the internal retry loop for lost optimistic updates.
const updateAttempts = 5

// ItemInput is one requested payment within a new run.
type ItemInput struct {
	EmployeeID string
	Amount     int64
}

// CreateRunInput carries everything needed to create a run in DRAFT.
type CreateRunInput struct {
	OrganizationID string
	ScheduledAt    time.Time
	Currency       string
	CreatedBy      string
	Items          []ItemInput
}

// Manager drives payroll runs through their lifecycle: creation with
// fail-closed eligibility validation, execution hand-off to the settlement
// pool, listing and soft deletion.
type Manager struct {
	appCtx      context.Context
	repo        repository.PayrollRepository
	directory   directory.EmployeeDirectory
	coordinator *settlement.Coordinator
	recorder    metrics.MetricRecorder
}

// NewManager creates a new lifecycle Manager. appCtx bounds the background
// settlement hand-off started by ExecuteRun.
func NewManager(
	appCtx context.Context,
	repo repository.PayrollRepository,
	dir directory.EmployeeDirectory,
	coordinator *settlement.Coordinator,
	recorder metrics.MetricRecorder,
) *Manager {
	return &Manager{
		appCtx:      appCtx,
		repo:        repo,
		directory:   dir,
		coordinator: coordinator,
		recorder:    recorder,
	}
}

// CreateRun validates every requested payment and persists the run with its
// items atomically. Validation fails closed: when any employee is missing or
// ineligible, nothing is persisted and the error lists every offending
// employee ID.
func (m *Manager) CreateRun(ctx context.Context, input CreateRunInput) (*model.PayrollRun, error) {
	if len(input.Items) == 0 {
		return nil, exception.NewValidationError("a payroll run requires at least one item", nil)
	}

	var offending []string
	var lookupErrs *multierror.Error
	seen := make(map[string]bool, len(input.Items))

	for _, item := range input.Items {
		if item.Amount <= 0 {
			offending = append(offending, item.EmployeeID)
			continue
		}
		if seen[item.EmployeeID] {
			offending = append(offending, item.EmployeeID)
			continue
		}
		seen[item.EmployeeID] = true

		employee, err := m.directory.Lookup(ctx, item.EmployeeID)
		if err != nil {
			if errors.Is(err, directory.ErrEmployeeNotFound) {
				offending = append(offending, item.EmployeeID)
				continue
			}
			lookupErrs = multierror.Append(lookupErrs, fmt.Errorf("employee %s: %w", item.EmployeeID, err))
			continue
		}
		if !employee.EligibleFor(input.OrganizationID) {
			offending = append(offending, item.EmployeeID)
		}
	}

	if err := lookupErrs.ErrorOrNil(); err != nil {
		return nil, exception.NewSettlementError(ModuleLifecycleManager, "Employee eligibility lookup failed", err, true)
	}
	if len(offending) > 0 {
		return nil, exception.NewValidationError("one or more employees are missing or ineligible", offending)
	}

	items := make([]*model.PayrollItem, 0, len(input.Items))
	for _, in := range input.Items {
		items = append(items, model.NewPayrollItem(in.EmployeeID, in.Amount))
	}
	run := model.NewPayrollRun(input.OrganizationID, input.ScheduledAt, input.Currency, input.CreatedBy, items)

	if err := m.repo.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	m.recorder.RecordRunCreated(ctx, run.OrganizationID, len(run.Items))
	logger.Infof("Created payroll run '%s' for organization '%s' (%d items, total %d %s).",
		run.ID, run.OrganizationID, len(run.Items), run.TotalAmount, run.Currency)
	return run, nil
}

// GetRun returns the run with its items.
func (m *Manager) GetRun(ctx context.Context, runID string) (*model.PayrollRun, error) {
	return m.repo.FindRunByID(ctx, runID)
}

// ListRuns returns all runs of an organization, newest first.
func (m *Manager) ListRuns(ctx context.Context, organizationID string) ([]*model.PayrollRun, error) {
	return m.repo.FindRunsByOrganization(ctx, organizationID)
}

// ExecuteRun moves a DRAFT run to PENDING and hands its items to the
// settlement pool asynchronously. The force flag is accepted for
// compatibility and has no effect on the DRAFT requirement.
func (m *Manager) ExecuteRun(ctx context.Context, runID string, force bool) (*model.PayrollRun, error) {
	if force {
		logger.Warnf("Execute requested with force for run '%s'; the flag has no effect.", runID)
	}

	var run *model.PayrollRun
	for attempt := 0; attempt < updateAttempts; attempt++ {
		var err error
		run, err = m.repo.FindRunByID(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status != model.StatusDraft {
			return nil, exception.NewInvalidStateError("PayrollRun", run.ID, run.Status.String(), "execute")
		}
		if err := run.MarkAsPending(); err != nil {
			return nil, exception.NewInvalidStateError("PayrollRun", run.ID, run.Status.String(), "execute")
		}
		err = m.repo.UpdateRun(ctx, run)
		if err == nil {
			break
		}
		if !exception.IsOptimisticLockFailure(err) {
			return nil, err
		}
		logger.Debugf("Lost update executing run '%s'; retrying with fresh state.", runID)
		run = nil
	}
	if run == nil {
		return nil, exception.NewSettlementError(ModuleLifecycleManager,
			"Could not execute run after repeated lost updates", exception.ErrOptimisticLockFailure, true)
	}

	for _, item := range run.Items {
		if err := m.markItemPending(ctx, item.ID); err != nil {
			logger.Errorf("Could not move item '%s' to PENDING: %v", item.ID, err)
		}
	}

	go m.dispatch(run)

	logger.Infof("Payroll run '%s' accepted for execution (%d items).", run.ID, len(run.Items))
	return run, nil
}

// dispatch enqueues every item of the run on the application context, so an
// HTTP request ending does not cancel the hand-off.
func (m *Manager) dispatch(run *model.PayrollRun) {
	for _, item := range run.Items {
		if err := m.coordinator.Enqueue(m.appCtx, run.ID, item.ID, false); err != nil {
			logger.Errorf("Could not enqueue item '%s' for settlement: %v", item.ID, err)
			return
		}
	}
}

func (m *Manager) markItemPending(ctx context.Context, itemID string) error {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		item, err := m.repo.FindItemByID(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Status != model.StatusDraft {
			return nil
		}
		if err := item.TransitionTo(model.StatusPending); err != nil {
			return err
		}
		err = m.repo.UpdateItem(ctx, item)
		if err == nil {
			return nil
		}
		if !exception.IsOptimisticLockFailure(err) {
			return err
		}
	}
	return exception.NewSettlementError(ModuleLifecycleManager,
		fmt.Sprintf("Could not move item '%s' to PENDING after repeated lost updates", itemID),
		exception.ErrOptimisticLockFailure, true)
}

// DeleteRun soft-deletes a DRAFT run and its items. Runs that already left
// DRAFT are part of the settlement record and cannot be deleted.
func (m *Manager) DeleteRun(ctx context.Context, runID string) error {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		run, err := m.repo.FindRunByID(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != model.StatusDraft {
			return exception.NewInvalidStateError("PayrollRun", run.ID, run.Status.String(), "delete")
		}

		run.SoftDelete()
		err = m.repo.UpdateRun(ctx, run)
		if err == nil {
			for _, item := range run.Items {
				if uerr := m.repo.UpdateItem(ctx, item); uerr != nil {
					logger.Errorf("Could not soft-delete item '%s': %v", item.ID, uerr)
				}
			}
			logger.Infof("Payroll run '%s' soft-deleted.", runID)
			return nil
		}
		if !exception.IsOptimisticLockFailure(err) {
			return err
		}
		logger.Debugf("Lost update deleting run '%s'; retrying with fresh state.", runID)
	}
	return exception.NewSettlementError(ModuleLifecycleManager,
		"Could not delete run after repeated lost updates", exception.ErrOptimisticLockFailure, true)
}
