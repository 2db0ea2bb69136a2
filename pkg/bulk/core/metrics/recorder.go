package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to bulk
// execution. It standardizes execution-, batch- and record-level events so
// different backends (Prometheus here, others elsewhere) can plug in.
type MetricRecorder interface {
	// RecordExecutionStart records the start of an Execution.
	RecordExecutionStart(ctx context.Context, execution *model.Execution)

	// RecordExecutionEnd records the terminal transition of an Execution.
	RecordExecutionEnd(ctx context.Context, execution *model.Execution)

	// RecordBatchEnd records the terminal transition of a Batch.
	RecordBatchEnd(ctx context.Context, execution *model.Execution, batch *model.Batch)

	// RecordRecordsProcessed records successfully mutated records.
	RecordRecordsProcessed(ctx context.Context, entityType, action string, count int)

	// RecordRecordsFailed records records whose handler invocation failed.
	RecordRecordsFailed(ctx context.Context, entityType, action string, count int)

	// RecordBatchRetry records the re-enqueue of a batch after a transient failure.
	RecordBatchRetry(ctx context.Context, executionID string, attempt int)

	// RecordUndo records the outcome of an undo pass.
	RecordUndo(ctx context.Context, execution *model.Execution, restored, failed int)

	// RecordDuration records the execution time of a named operation.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
