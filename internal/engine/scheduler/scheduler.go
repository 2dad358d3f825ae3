package scheduler

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/payrollx/payrun/internal/config"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/engine/lifecycle"
	"github.com/payrollx/payrun/internal/engine/settlement"
	"github.com/payrollx/payrun/internal/metrics"
	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

const ModuleScheduler = "scheduler"

const (
	sweepKindDue   = "due_runs"
	sweepKindRetry = "retry_items"
)

// Scheduler runs two periodic sweeps: one executing runs whose scheduled
// time has passed, and one re-enqueuing failed items that still have retry
// budget. A failure on one entity never stops the rest of the sweep.
type Scheduler struct {
	repo        repository.PayrollRepository
	manager     *lifecycle.Manager
	coordinator *settlement.Coordinator
	recorder    metrics.MetricRecorder
	cfg         config.SchedulerConfig
	maxRetries  int
	loc         *time.Location

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler instance. The location anchors the
// daily due-run sweep; nil means local time.
func NewScheduler(
	repo repository.PayrollRepository,
	manager *lifecycle.Manager,
	coordinator *settlement.Coordinator,
	recorder metrics.MetricRecorder,
	cfg config.SchedulerConfig,
	maxRetries int,
	loc *time.Location,
) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		repo:        repo,
		manager:     manager,
		coordinator: coordinator,
		recorder:    recorder,
		cfg:         cfg,
		maxRetries:  maxRetries,
		loc:         loc,
	}
}

// Start launches both sweep loops. They run until Stop is called or the
// context ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	dueInterval := time.Duration(s.cfg.DueSweepIntervalMinutes) * time.Minute
	retryInterval := time.Duration(s.cfg.RetrySweepIntervalMinutes) * time.Minute
	dueDelay := untilAnchor(time.Now().In(s.loc), s.cfg.DueSweepAnchorHour)
	logger.Infof("Starting scheduler (due sweep: every %s starting in %s, retry sweep: every %s).",
		dueInterval, dueDelay.Round(time.Second), retryInterval)

	s.wg.Add(2)
	go s.loop(ctx, dueDelay, dueInterval, s.SweepDueRuns)
	go s.loop(ctx, 0, retryInterval, s.SweepRetryableItems)
}

// Stop cancels the sweep loops and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logger.Infof("Scheduler stopped.")
}

func (s *Scheduler) loop(ctx context.Context, delay, interval time.Duration, sweep func(context.Context) int) {
	defer s.wg.Done()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			sweep(ctx)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// untilAnchor returns how long to wait from now until the next occurrence of
// the given local hour. A negative or out-of-range hour disables anchoring.
func untilAnchor(now time.Time, hour int) time.Duration {
	if hour < 0 || hour > 23 {
		return 0
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// SweepDueRuns executes every non-deleted DRAFT run whose scheduled time has
// passed. It returns the number of runs handed off.
func (s *Scheduler) SweepDueRuns(ctx context.Context) int {
	start := time.Now()

	ctx, span := otel.Tracer(ModuleScheduler).Start(ctx, "sweep.due_runs")
	defer span.End()

	runs, err := s.repo.FindDueRuns(ctx, time.Now())
	if err != nil {
		logger.Errorf("Due-run sweep could not list runs: %v", err)
		return 0
	}

	executed := 0
	for _, run := range runs {
		if _, err := s.manager.ExecuteRun(ctx, run.ID, false); err != nil {
			if exception.IsInvalidState(err) {
				// Another actor executed it between the listing and now.
				logger.Debugf("Due run '%s' already left DRAFT; skipping.", run.ID)
				continue
			}
			logger.Errorf("Due-run sweep could not execute run '%s': %v", run.ID, err)
			continue
		}
		executed++
	}

	span.SetAttributes(attribute.Int("sweep.executed", executed))
	s.recorder.RecordSweep(ctx, sweepKindDue, executed, time.Since(start))
	if len(runs) > 0 {
		logger.Infof("Due-run sweep executed %d of %d due runs.", executed, len(runs))
	}
	return executed
}

// SweepRetryableItems re-enqueues FAILED items that still have retry budget.
// The retry count is incremented before the item is handed back to the pool,
// so a crashed attempt still consumes budget. It returns the number of items
// enqueued.
func (s *Scheduler) SweepRetryableItems(ctx context.Context) int {
	start := time.Now()

	ctx, span := otel.Tracer(ModuleScheduler).Start(ctx, "sweep.retry_items")
	defer span.End()

	items, err := s.repo.FindRetryableItems(ctx, s.maxRetries)
	if err != nil {
		logger.Errorf("Retry sweep could not list items: %v", err)
		return 0
	}

	enqueued := 0
	for _, item := range items {
		item.IncrementRetryCount()
		if err := s.repo.UpdateItem(ctx, item); err != nil {
			if exception.IsOptimisticLockFailure(err) {
				// Someone else touched the item; it will be picked up next sweep
				// if it is still retryable.
				logger.Debugf("Retry sweep lost the update on item '%s'; skipping.", item.ID)
				continue
			}
			logger.Errorf("Retry sweep could not update item '%s': %v", item.ID, err)
			continue
		}

		s.recorder.RecordItemRetry(ctx, "sweep")
		if err := s.coordinator.Enqueue(ctx, item.RunID, item.ID, true); err != nil {
			logger.Errorf("Retry sweep could not enqueue item '%s': %v", item.ID, err)
			continue
		}
		enqueued++
	}

	span.SetAttributes(attribute.Int("sweep.enqueued", enqueued))
	s.recorder.RecordSweep(ctx, sweepKindRetry, enqueued, time.Since(start))
	if len(items) > 0 {
		logger.Infof("Retry sweep enqueued %d of %d retryable items.", enqueued, len(items))
	}
	return enqueued
}
