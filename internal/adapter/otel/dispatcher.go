package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

// TracingDispatcher wraps a domain.TaskDispatcher with OpenTelemetry tracing.
type TracingDispatcher struct {
	next   domain.TaskDispatcher
	tracer trace.Tracer
}

// Compile-time check: TracingDispatcher implements domain.TaskDispatcher.
var _ domain.TaskDispatcher = (*TracingDispatcher)(nil)

// NewTracingDispatcher creates a tracing decorator around the given dispatcher.
func NewTracingDispatcher(next domain.TaskDispatcher) *TracingDispatcher {
	return &TracingDispatcher{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (d *TracingDispatcher) Dispatch(ctx context.Context, jobID string) error {
	ctx, span := d.tracer.Start(ctx, "TaskDispatcher.Dispatch",
		trace.WithAttributes(attribute.String("job.id", jobID)),
	)
	defer span.End()

	err := d.next.Dispatch(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
