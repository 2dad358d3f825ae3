package listener

import (
	"context"

	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/support/logger"
)

// CompletionNotifier receives completion events for runs that reached a
// terminal status. Delivery is at-least-once; implementations must tolerate
// duplicates and must never block run processing on failure.
type CompletionNotifier interface {
	Notify(ctx context.Context, event model.CompletionEvent) error
}

// LoggingNotifier is a CompletionNotifier that writes completion events to
// the application log.
type LoggingNotifier struct{}

// NewLoggingNotifier creates a new LoggingNotifier instance.
func NewLoggingNotifier() *LoggingNotifier {
	return &LoggingNotifier{}
}

// Notify logs the completion event.
func (n *LoggingNotifier) Notify(ctx context.Context, event model.CompletionEvent) error {
	logger.Infof("Payroll run '%s' finished with status %s (completed: %d, failed: %d).",
		event.RunID, event.FinalStatus, event.CompletedCount, event.FailedCount)
	return nil
}

var _ CompletionNotifier = (*LoggingNotifier)(nil)
