package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	metrics "github.com/tigerroll/marlin/pkg/bulk/core/metrics"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Execution Metrics
	executionDurationSeconds *prometheus.HistogramVec
	executionStatusCounter   *prometheus.CounterVec

	// Batch Metrics
	batchDurationSeconds *prometheus.HistogramVec
	batchStatusCounter   *prometheus.CounterVec
	batchRetryCounter    *prometheus.CounterVec

	// Record Metrics
	recordsProcessedCounter *prometheus.CounterVec
	recordsFailedCounter    *prometheus.CounterVec

	// Undo Metrics
	undoRestoredCounter *prometheus.CounterVec
	undoFailedCounter   *prometheus.CounterVec

	// Generic operation durations (e.g. resolve, dispatch, purge).
	operationDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() metrics.MetricRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		executionDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulk_execution_duration_seconds",
			Help:    "Duration of bulk executions from dispatch to terminal status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity_type", "action", "status"}),
		executionStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_execution_status_total",
			Help: "Total number of bulk executions by status.",
		}, []string{"entity_type", "action", "status"}),
		batchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulk_batch_duration_seconds",
			Help:    "Duration of individual batch settlements.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity_type", "action", "status"}),
		batchStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_batch_status_total",
			Help: "Total number of batch settlements by status.",
		}, []string{"entity_type", "action", "status"}),
		batchRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_batch_retry_total",
			Help: "Total batch re-enqueues after transient failures.",
		}, []string{"execution_id"}),
		recordsProcessedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_records_processed_total",
			Help: "Total records mutated successfully.",
		}, []string{"entity_type", "action"}),
		recordsFailedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_records_failed_total",
			Help: "Total records whose mutation failed.",
		}, []string{"entity_type", "action"}),
		undoRestoredCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_undo_restored_total",
			Help: "Total records restored by undo passes.",
		}, []string{"entity_type", "action"}),
		undoFailedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_undo_failed_total",
			Help: "Total records an undo pass could not restore.",
		}, []string{"entity_type", "action"}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulk_operation_duration_seconds",
			Help:    "Duration of named engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.executionDurationSeconds)
	registry.MustRegister(r.executionStatusCounter)
	registry.MustRegister(r.batchDurationSeconds)
	registry.MustRegister(r.batchStatusCounter)
	registry.MustRegister(r.batchRetryCounter)
	registry.MustRegister(r.recordsProcessedCounter)
	registry.MustRegister(r.recordsFailedCounter)
	registry.MustRegister(r.undoRestoredCounter)
	registry.MustRegister(r.undoFailedCounter)
	registry.MustRegister(r.operationDurationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordExecutionStart records the start of an Execution.
func (r *PrometheusRecorder) RecordExecutionStart(ctx context.Context, execution *model.Execution) {
	r.executionStatusCounter.WithLabelValues(execution.EntityType, execution.Action, string(execution.Status)).Inc()
	logger.Debugf("Metrics: Execution '%s' started.", execution.ID)
}

// RecordExecutionEnd records the terminal transition of an Execution.
func (r *PrometheusRecorder) RecordExecutionEnd(ctx context.Context, execution *model.Execution) {
	r.executionStatusCounter.WithLabelValues(execution.EntityType, execution.Action, string(execution.Status)).Inc()

	if execution.StartTime == nil || execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(*execution.StartTime).Seconds()

	r.executionDurationSeconds.WithLabelValues(
		execution.EntityType,
		execution.Action,
		string(execution.Status),
	).Observe(duration)

	logger.Debugf("Metrics: Execution '%s' ended. Duration: %.3fs", execution.ID, duration)
}

// RecordBatchEnd records the terminal transition of a Batch.
func (r *PrometheusRecorder) RecordBatchEnd(ctx context.Context, execution *model.Execution, batch *model.Batch) {
	r.batchStatusCounter.WithLabelValues(execution.EntityType, execution.Action, string(batch.Status)).Inc()

	duration := batch.LastUpdated.Sub(batch.CreateTime).Seconds()
	if duration < 0 {
		duration = 0
	}
	r.batchDurationSeconds.WithLabelValues(
		execution.EntityType,
		execution.Action,
		string(batch.Status),
	).Observe(duration)
}

// RecordRecordsProcessed records successfully mutated records.
func (r *PrometheusRecorder) RecordRecordsProcessed(ctx context.Context, entityType, action string, count int) {
	if count <= 0 {
		return
	}
	r.recordsProcessedCounter.WithLabelValues(entityType, action).Add(float64(count))
}

// RecordRecordsFailed records records whose handler invocation failed.
func (r *PrometheusRecorder) RecordRecordsFailed(ctx context.Context, entityType, action string, count int) {
	if count <= 0 {
		return
	}
	r.recordsFailedCounter.WithLabelValues(entityType, action).Add(float64(count))
}

// RecordBatchRetry records the re-enqueue of a batch after a transient failure.
func (r *PrometheusRecorder) RecordBatchRetry(ctx context.Context, executionID string, attempt int) {
	r.batchRetryCounter.WithLabelValues(executionID).Inc()
	logger.Debugf("Metrics: Batch retry recorded for execution '%s' (attempt %d).", executionID, attempt)
}

// RecordUndo records the outcome of an undo pass.
func (r *PrometheusRecorder) RecordUndo(ctx context.Context, execution *model.Execution, restored, failed int) {
	if restored > 0 {
		r.undoRestoredCounter.WithLabelValues(execution.EntityType, execution.Action).Add(float64(restored))
	}
	if failed > 0 {
		r.undoFailedCounter.WithLabelValues(execution.EntityType, execution.Action).Add(float64(failed))
	}
	logger.Debugf("Metrics: Undo recorded for execution '%s' (restored=%d, failed=%d).", execution.ID, restored, failed)
}

// RecordDuration records the execution time of a named operation.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

// Verify interfaces
var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
