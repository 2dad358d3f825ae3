package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/support/exception"
)

// SaveRun persists a new PayrollRun together with its items.
// It returns an error if a run with the same ID already exists; the run and
// its items become visible together.
func (r *InMemoryPayrollRepository) SaveRun(ctx context.Context, run *model.PayrollRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("PayrollRun with ID %s already exists", run.ID)
	}
	r.runs[run.ID] = cloneRun(run)
	for _, item := range run.Items {
		r.items[item.ID] = cloneItem(item)
	}
	return nil
}

// UpdateRun updates an existing PayrollRun under an optimistic version check.
func (r *InMemoryPayrollRepository) UpdateRun(ctx context.Context, run *model.PayrollRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.runs[run.ID]
	if !exists {
		return repository.ErrRunNotFound
	}
	if stored.Version != run.Version {
		return exception.NewOptimisticLockError("repository",
			fmt.Sprintf("PayrollRun (ID: %s) version mismatch: have %d, want %d", run.ID, stored.Version, run.Version), nil)
	}
	run.Version++
	r.runs[run.ID] = cloneRun(run)
	return nil
}

// FindRunByID finds a PayrollRun by its ID with its items loaded, sorted by
// creation time for consistency. Soft-deleted runs are not returned.
func (r *InMemoryPayrollRepository) FindRunByID(ctx context.Context, runID string) (*model.PayrollRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runID]
	if !ok || run.DeletedAt != nil {
		return nil, repository.ErrRunNotFound
	}
	return r.loadRunWithItems(run), nil
}

// FindRunsByOrganization finds all runs of an organization, newest first.
func (r *InMemoryPayrollRepository) FindRunsByOrganization(ctx context.Context, organizationID string) ([]*model.PayrollRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var runs []*model.PayrollRun
	for _, run := range r.runs {
		if run.OrganizationID == organizationID && run.DeletedAt == nil {
			runs = append(runs, r.loadRunWithItems(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[j].CreatedAt.Before(runs[i].CreatedAt)
	})
	return runs, nil
}

// FindDueRuns finds all DRAFT runs whose scheduled time has passed, not
// soft-deleted.
func (r *InMemoryPayrollRepository) FindDueRuns(ctx context.Context, now time.Time) ([]*model.PayrollRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*model.PayrollRun
	for _, run := range r.runs {
		if run.Status == model.StatusDraft && run.DeletedAt == nil && !run.ScheduledAt.After(now) {
			due = append(due, r.loadRunWithItems(run))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due, nil
}

// loadRunWithItems clones the run and attaches clones of its items, sorted
// by creation time. Callers must hold at least the read lock.
func (r *InMemoryPayrollRepository) loadRunWithItems(run *model.PayrollRun) *model.PayrollRun {
	cloned := cloneRun(run)
	for _, item := range r.items {
		if item.RunID == cloned.ID {
			cloned.Items = append(cloned.Items, cloneItem(item))
		}
	}
	sort.Slice(cloned.Items, func(i, j int) bool {
		return cloned.Items[i].CreatedAt.Before(cloned.Items[j].CreatedAt)
	})
	return cloned
}
