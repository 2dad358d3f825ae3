package metrics

import (
	"context"
	"time"

	"github.com/payrollx/payrun/internal/domain/model"
)

// MetricRecorder is the interface for recording payroll metrics.
type MetricRecorder interface {
	// RecordRunCreated records a newly created run and its item count.
	RecordRunCreated(ctx context.Context, organizationID string, itemCount int)
	// RecordRunEnd records a run reaching a terminal status.
	RecordRunEnd(ctx context.Context, run *model.PayrollRun, duration time.Duration)
	// RecordItemEnd records an item settlement outcome.
	RecordItemEnd(ctx context.Context, status model.PayrollStatus, duration time.Duration)
	// RecordItemRetry records a retry attempt for a failed item.
	RecordItemRetry(ctx context.Context, reason string)
	// RecordSweep records a scheduler sweep and how many entities it touched.
	RecordSweep(ctx context.Context, kind string, processed int, duration time.Duration)
}

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordRunCreated does nothing.
func (r *NoOpMetricRecorder) RecordRunCreated(ctx context.Context, organizationID string, itemCount int) {
}

// RecordRunEnd does nothing.
func (r *NoOpMetricRecorder) RecordRunEnd(ctx context.Context, run *model.PayrollRun, duration time.Duration) {
}

// RecordItemEnd does nothing.
func (r *NoOpMetricRecorder) RecordItemEnd(ctx context.Context, status model.PayrollStatus, duration time.Duration) {
}

// RecordItemRetry does nothing.
func (r *NoOpMetricRecorder) RecordItemRetry(ctx context.Context, reason string) {}

// RecordSweep does nothing.
func (r *NoOpMetricRecorder) RecordSweep(ctx context.Context, kind string, processed int, duration time.Duration) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)
