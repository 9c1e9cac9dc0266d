package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

const tracerName = "github.com/oakmontlabs/storeforge/internal/adapter/otel"

// TracingRepository wraps a domain.JobRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
// Conflicts are recorded too: a lost compare-and-set race is exactly the
// kind of event worth seeing on a trace.
type TracingRepository struct {
	next   domain.JobRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.JobRepository.
var _ domain.JobRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.JobRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Create(ctx context.Context, job domain.Job) error {
	ctx, span := r.tracer.Start(ctx, "JobRepository.Create",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.entity.type", string(job.Entity.Type)),
			attribute.String("job.entity.id", job.Entity.ID),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) GetByID(ctx context.Context, id string) (domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "JobRepository.GetByID",
		trace.WithAttributes(attribute.String("job.id", id)),
	)
	defer span.End()

	job, err := r.next.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return job, err
}

func (r *TracingRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "JobRepository.List",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	defer span.End()

	if filter.Entity != nil {
		span.SetAttributes(
			attribute.String("filter.entity.type", string(filter.Entity.Type)),
			attribute.String("filter.entity.id", filter.Entity.ID),
		)
	}
	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	jobs, err := r.next.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(jobs)))
	}
	return jobs, err
}

func (r *TracingRepository) CountByEntity(ctx context.Context, entity domain.Entity) (int, error) {
	ctx, span := r.tracer.Start(ctx, "JobRepository.CountByEntity",
		trace.WithAttributes(
			attribute.String("job.entity.type", string(entity.Type)),
			attribute.String("job.entity.id", entity.ID),
		),
	)
	defer span.End()

	count, err := r.next.CountByEntity(ctx, entity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", count))
	}
	return count, err
}

func (r *TracingRepository) Update(ctx context.Context, id string, update domain.JobUpdate, expected *domain.Status) error {
	ctx, span := r.tracer.Start(ctx, "JobRepository.Update",
		trace.WithAttributes(attribute.String("job.id", id)),
	)
	defer span.End()

	if update.Status != nil {
		span.SetAttributes(attribute.String("job.status.next", string(*update.Status)))
	}
	if expected != nil {
		span.SetAttributes(attribute.String("job.status.expected", string(*expected)))
	}

	err := r.next.Update(ctx, id, update, expected)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) AppendLog(ctx context.Context, id string, message string) error {
	ctx, span := r.tracer.Start(ctx, "JobRepository.AppendLog",
		trace.WithAttributes(attribute.String("job.id", id)),
	)
	defer span.End()

	err := r.next.AppendLog(ctx, id, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "JobRepository.Delete",
		trace.WithAttributes(attribute.String("job.id", id)),
	)
	defer span.End()

	err := r.next.Delete(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
