package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/listener"
	"github.com/payrollx/payrun/internal/metrics"
	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

const ModuleStatusAggregator = "status_aggregator"

// updateAttempts bounds the internal retry loop for lost optimistic updates.
const updateAttempts = 5

// StatusAggregator recomputes a run's status from its items. All
// recomputations for the same run are serialized through a per-run mutex, so
// concurrent item outcomes never interleave their read-modify-write cycles.
// A run's transition into a given terminal status, and the completion event
// it emits, happen exactly once.
type StatusAggregator struct {
	repo      repository.PayrollRepository
	recorder  metrics.MetricRecorder
	notifiers []listener.CompletionNotifier

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
}

// NewStatusAggregator creates a new StatusAggregator instance.
func NewStatusAggregator(repo repository.PayrollRepository, recorder metrics.MetricRecorder, notifiers ...listener.CompletionNotifier) *StatusAggregator {
	return &StatusAggregator{
		repo:      repo,
		recorder:  recorder,
		notifiers: notifiers,
		runLocks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing recomputation for the given run.
func (a *StatusAggregator) lockFor(runID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.runLocks[runID]
	if !ok {
		lock = &sync.Mutex{}
		a.runLocks[runID] = lock
	}
	return lock
}

// OnItemStarted is invoked when the first settlement attempt of an item
// begins. It rolls a PENDING run forward to PROCESSING; later calls for the
// same run are no-ops.
func (a *StatusAggregator) OnItemStarted(ctx context.Context, runID string) error {
	lock := a.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < updateAttempts; attempt++ {
		run, err := a.repo.FindRunByID(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != model.StatusPending {
			return nil
		}
		if err := run.MarkAsProcessing(); err != nil {
			return exception.NewInvalidStateError("PayrollRun", run.ID, run.Status.String(), "start processing")
		}
		err = a.repo.UpdateRun(ctx, run)
		if err == nil {
			logger.Infof("Payroll run '%s' is now PROCESSING.", runID)
			return nil
		}
		if !exception.IsOptimisticLockFailure(err) {
			return err
		}
		logger.Debugf("Lost update rolling run '%s' to PROCESSING; retrying with fresh state.", runID)
	}
	return exception.NewSettlementError(ModuleStatusAggregator,
		"Could not roll run to PROCESSING after repeated lost updates", exception.ErrOptimisticLockFailure, true)
}

// OnItemTerminal is invoked after an item reaches COMPLETED or FAILED. When
// every item of the run is terminal, the run is moved to its terminal status
// and the completion event is fanned out to the registered notifiers. A run
// that closed FAILED is re-evaluated: once retried items have cleared every
// failure the run moves on to COMPLETED and a corrective event is emitted.
func (a *StatusAggregator) OnItemTerminal(ctx context.Context, runID string) error {
	lock := a.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < updateAttempts; attempt++ {
		run, err := a.repo.FindRunByID(ctx, runID)
		if err != nil {
			if errors.Is(err, repository.ErrRunNotFound) {
				logger.Warnf("Status recomputation for unknown or deleted run '%s' skipped.", runID)
				return nil
			}
			return err
		}
		if run.Status == model.StatusCompleted {
			// Retried items can complete after the run already closed.
			return nil
		}
		if !run.AllItemsTerminal() {
			return nil
		}

		completed := run.CountByStatus(model.StatusCompleted)
		failed := run.CountByStatus(model.StatusFailed)

		if run.Status == model.StatusFailed && failed > 0 {
			// Still failed; the earlier terminal transition stands.
			return nil
		}

		if run.Status == model.StatusPending {
			// The PROCESSING roll-forward can be lost when its repository
			// write fails; recover it here so the run can still finalize.
			if err := run.MarkAsProcessing(); err != nil {
				return exception.NewInvalidStateError("PayrollRun", run.ID, run.Status.String(), "finalize")
			}
		}

		var terr error
		if failed > 0 {
			terr = run.MarkAsFailed()
		} else {
			terr = run.MarkAsCompleted()
		}
		if terr != nil {
			return exception.NewInvalidStateError("PayrollRun", run.ID, run.Status.String(), "finalize")
		}

		err = a.repo.UpdateRun(ctx, run)
		if err == nil {
			a.emitCompletion(ctx, run, completed, failed)
			a.forget(runID)
			return nil
		}
		if !exception.IsOptimisticLockFailure(err) {
			return err
		}
		logger.Debugf("Lost update finalizing run '%s'; retrying with fresh state.", runID)
	}
	return exception.NewSettlementError(ModuleStatusAggregator,
		"Could not finalize run after repeated lost updates", exception.ErrOptimisticLockFailure, true)
}

// emitCompletion delivers the completion event to every notifier. Notifier
// failures are logged and never affect run state.
func (a *StatusAggregator) emitCompletion(ctx context.Context, run *model.PayrollRun, completed, failed int) {
	event := model.CompletionEvent{
		RunID:          run.ID,
		FinalStatus:    run.Status,
		CompletedCount: completed,
		FailedCount:    failed,
		Timestamp:      time.Now(),
	}

	a.recorder.RecordRunEnd(ctx, run, run.UpdatedAt.Sub(run.CreatedAt))
	logger.Infof("Payroll run '%s' reached terminal status %s (completed: %d, failed: %d).",
		run.ID, run.Status, completed, failed)

	for _, notifier := range a.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			logger.Errorf("Completion event delivery failed for run '%s': %v", run.ID, err)
		}
	}
}

// forget drops the per-run lock once the run reached a terminal status, so
// the lock map does not grow without bound. lockFor recreates the lock if a
// late retry aggregates the run again.
func (a *StatusAggregator) forget(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.runLocks, runID)
}
