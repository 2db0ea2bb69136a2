package metrics

import (
	"context"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing. It lets the engine
// emit a span per batch and per undo pass without binding to a tracing SDK.
type Tracer interface {
	// StartBatchSpan starts a span covering the processing of one batch.
	// The returned function ends the span; call it in a defer statement.
	StartBatchSpan(ctx context.Context, execution *model.Execution, batch *model.Batch) (context.Context, func())

	// StartUndoSpan starts a span covering one undo pass.
	StartUndoSpan(ctx context.Context, execution *model.Execution) (context.Context, func())

	// RecordError records an error on the current span.
	RecordError(ctx context.Context, module string, err error)
}

// NoOpTracer is a Tracer implementation that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() *NoOpTracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartBatchSpan(ctx context.Context, execution *model.Execution, batch *model.Batch) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartUndoSpan(ctx context.Context, execution *model.Execution) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// Verify interfaces
var _ Tracer = (*NoOpTracer)(nil)
