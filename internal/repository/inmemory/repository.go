// Package inmemory provides a memory-backed PayrollRepository used by tests
// and the dev mode. It mirrors the optimistic-versioning semantics of the
// SQL repository so the orchestrator behaves identically against either.
package inmemory

import (
	"sync"

	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/domain/repository"
)

// InMemoryPayrollRepository implements repository.PayrollRepository with
// plain maps guarded by a single mutex.
type InMemoryPayrollRepository struct {
	mu    sync.RWMutex
	runs  map[string]*model.PayrollRun
	items map[string]*model.PayrollItem
}

// NewInMemoryPayrollRepository creates a new empty in-memory repository.
func NewInMemoryPayrollRepository() *InMemoryPayrollRepository {
	return &InMemoryPayrollRepository{
		runs:  make(map[string]*model.PayrollRun),
		items: make(map[string]*model.PayrollItem),
	}
}

// Close releases no resources for the in-memory implementation.
func (r *InMemoryPayrollRepository) Close() error {
	return nil
}

// cloneRun deep-copies a run without its items to prevent external
// modification of internal state.
func cloneRun(run *model.PayrollRun) *model.PayrollRun {
	cloned := *run
	cloned.Items = make([]*model.PayrollItem, 0)
	return &cloned
}

// cloneItem copies an item to prevent external modification of internal state.
func cloneItem(item *model.PayrollItem) *model.PayrollItem {
	cloned := *item
	return &cloned
}

var _ repository.PayrollRepository = (*InMemoryPayrollRepository)(nil)
