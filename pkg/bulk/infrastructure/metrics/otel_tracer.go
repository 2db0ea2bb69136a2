package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	metrics "github.com/tigerroll/marlin/pkg/bulk/core/metrics"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

const tracerName = "github.com/tigerroll/marlin/pkg/bulk/engine"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// It uses the globally registered tracer provider, so it works as a no-op until
// the host process installs an SDK.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer() metrics.Tracer {
	return &OpenTelemetryTracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartBatchSpan starts a new span covering the processing of one batch.
func (t *OpenTelemetryTracer) StartBatchSpan(ctx context.Context, execution *model.Execution, batch *model.Batch) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "bulk.batch.process", trace.WithAttributes(
		attribute.String("bulk.execution_id", execution.ID),
		attribute.String("bulk.batch_id", batch.ID),
		attribute.Int("bulk.batch_sequence", batch.Sequence),
		attribute.String("bulk.entity_type", execution.EntityType),
		attribute.String("bulk.action", execution.Action),
	))
	return ctx, func() { span.End() }
}

// StartUndoSpan starts a new span covering one undo pass.
func (t *OpenTelemetryTracer) StartUndoSpan(ctx context.Context, execution *model.Execution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "bulk.undo", trace.WithAttributes(
		attribute.String("bulk.execution_id", execution.ID),
		attribute.String("bulk.entity_type", execution.EntityType),
		attribute.String("bulk.action", execution.Action),
	))
	return ctx, func() { span.End() }
}

// RecordError records an error on the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("bulk.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// Verify interfaces
var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
