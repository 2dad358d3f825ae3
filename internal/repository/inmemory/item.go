package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/support/exception"
)

// UpdateItem updates an existing PayrollItem under an optimistic version check.
func (r *InMemoryPayrollRepository) UpdateItem(ctx context.Context, item *model.PayrollItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.items[item.ID]
	if !exists {
		return repository.ErrItemNotFound
	}
	if stored.Version != item.Version {
		return exception.NewOptimisticLockError("repository",
			fmt.Sprintf("PayrollItem (ID: %s) version mismatch: have %d, want %d", item.ID, stored.Version, item.Version), nil)
	}
	item.Version++
	r.items[item.ID] = cloneItem(item)
	return nil
}

// FindItemByID finds a PayrollItem by its ID. Soft-deleted items are not
// returned.
func (r *InMemoryPayrollRepository) FindItemByID(ctx context.Context, itemID string) (*model.PayrollItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[itemID]
	if !ok || item.DeletedAt != nil {
		return nil, repository.ErrItemNotFound
	}
	return cloneItem(item), nil
}

// FindItemsByRun finds all items belonging to the given run, sorted by
// creation time.
func (r *InMemoryPayrollRepository) FindItemsByRun(ctx context.Context, runID string) ([]*model.PayrollItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*model.PayrollItem
	for _, item := range r.items {
		if item.RunID == runID {
			items = append(items, cloneItem(item))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// FindRetryableItems finds all FAILED items with retry count below
// maxRetries, not soft-deleted.
func (r *InMemoryPayrollRepository) FindRetryableItems(ctx context.Context, maxRetries int) ([]*model.PayrollItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var retryable []*model.PayrollItem
	for _, item := range r.items {
		if item.Status == model.StatusFailed && item.RetryCount < maxRetries && item.DeletedAt == nil {
			retryable = append(retryable, cloneItem(item))
		}
	}
	sort.Slice(retryable, func(i, j int) bool {
		return retryable[i].CreatedAt.Before(retryable[j].CreatedAt)
	})
	return retryable, nil
}
