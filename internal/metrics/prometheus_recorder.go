package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/support/logger"
)

// PrometheusRecorder is a Prometheus implementation of the MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Run Metrics
	runCreatedCounter  *prometheus.CounterVec
	runDurationSeconds *prometheus.HistogramVec
	runStatusCounter   *prometheus.CounterVec

	// Item Metrics
	itemDurationSeconds *prometheus.HistogramVec
	itemStatusCounter   *prometheus.CounterVec
	itemRetryCounter    *prometheus.CounterVec

	// Scheduler Metrics
	sweepDurationSeconds *prometheus.HistogramVec
	sweepProcessedTotal  *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runCreatedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payrun_runs_created_total",
			Help: "Total number of payroll runs created.",
		}, []string{"organization_id"}),
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payrun_run_duration_seconds",
			Help:    "Duration from run execution to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payrun_run_status_total",
			Help: "Total number of payroll runs by terminal status.",
		}, []string{"status"}),
		itemDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payrun_item_duration_seconds",
			Help:    "Duration of item settlement attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		itemStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payrun_item_status_total",
			Help: "Total number of item settlement outcomes by status.",
		}, []string{"status"}),
		itemRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payrun_item_retry_total",
			Help: "Total item retries by reason.",
		}, []string{"reason"}),
		sweepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payrun_sweep_duration_seconds",
			Help:    "Duration of scheduler sweeps.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		sweepProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payrun_sweep_processed_total",
			Help: "Total entities processed by scheduler sweeps.",
		}, []string{"kind"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.runCreatedCounter)
	registry.MustRegister(r.runDurationSeconds)
	registry.MustRegister(r.runStatusCounter)
	registry.MustRegister(r.itemDurationSeconds)
	registry.MustRegister(r.itemStatusCounter)
	registry.MustRegister(r.itemRetryCounter)
	registry.MustRegister(r.sweepDurationSeconds)
	registry.MustRegister(r.sweepProcessedTotal)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRunCreated records a newly created run.
func (r *PrometheusRecorder) RecordRunCreated(ctx context.Context, organizationID string, itemCount int) {
	r.runCreatedCounter.WithLabelValues(organizationID).Inc()
	logger.Debugf("Metrics: Run created for organization '%s' (%d items).", organizationID, itemCount)
}

// RecordRunEnd records a run reaching a terminal status.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, run *model.PayrollRun, duration time.Duration) {
	r.runStatusCounter.WithLabelValues(string(run.Status)).Inc()
	r.runDurationSeconds.WithLabelValues(string(run.Status)).Observe(duration.Seconds())
	logger.Debugf("Metrics: Run '%s' ended with status %s. Duration: %.3fs", run.ID, run.Status, duration.Seconds())
}

// RecordItemEnd records an item settlement outcome.
func (r *PrometheusRecorder) RecordItemEnd(ctx context.Context, status model.PayrollStatus, duration time.Duration) {
	r.itemStatusCounter.WithLabelValues(string(status)).Inc()
	r.itemDurationSeconds.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordItemRetry records a retry attempt for a failed item.
func (r *PrometheusRecorder) RecordItemRetry(ctx context.Context, reason string) {
	r.itemRetryCounter.WithLabelValues(reason).Inc()
}

// RecordSweep records a scheduler sweep.
func (r *PrometheusRecorder) RecordSweep(ctx context.Context, kind string, processed int, duration time.Duration) {
	r.sweepProcessedTotal.WithLabelValues(kind).Add(float64(processed))
	r.sweepDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

var _ MetricRecorder = (*PrometheusRecorder)(nil)
