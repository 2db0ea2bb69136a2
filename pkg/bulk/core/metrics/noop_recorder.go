package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// NoOpMetricRecorder is a MetricRecorder implementation that does nothing.
// It is the fallback when no metrics backend is wired.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new NoOpMetricRecorder.
func NewNoOpMetricRecorder() *NoOpMetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordExecutionStart(ctx context.Context, execution *model.Execution) {
}
func (r *NoOpMetricRecorder) RecordExecutionEnd(ctx context.Context, execution *model.Execution) {}
func (r *NoOpMetricRecorder) RecordBatchEnd(ctx context.Context, execution *model.Execution, batch *model.Batch) {
}
func (r *NoOpMetricRecorder) RecordRecordsProcessed(ctx context.Context, entityType, action string, count int) {
}
func (r *NoOpMetricRecorder) RecordRecordsFailed(ctx context.Context, entityType, action string, count int) {
}
func (r *NoOpMetricRecorder) RecordBatchRetry(ctx context.Context, executionID string, attempt int) {}
func (r *NoOpMetricRecorder) RecordUndo(ctx context.Context, execution *model.Execution, restored, failed int) {
}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

// Verify interfaces
var _ MetricRecorder = (*NoOpMetricRecorder)(nil)
