// Package dispatch provides the two task dispatch strategies: direct
// in-process execution for local development and a River-backed durable
// queue for production. The strategy is chosen by configuration at
// startup, never per request.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

// PopulateFunc runs the population step for one job.
type PopulateFunc func(ctx context.Context, jobID string) error

// Compile-time check: Direct implements domain.TaskDispatcher.
var _ domain.TaskDispatcher = (*Direct)(nil)

// Direct runs population asynchronously in-process. Fire and forget:
// errors are logged, never surfaced to the trigger caller, and nothing
// retries. Local development only.
type Direct struct {
	populate PopulateFunc
}

// NewDirect creates a direct dispatcher around the populate function.
func NewDirect(populate PopulateFunc) *Direct {
	return &Direct{populate: populate}
}

// Dispatch starts the population step in a goroutine. The goroutine gets
// a fresh background context: the triggering request's deadline must not
// cancel population mid-flight.
func (d *Direct) Dispatch(ctx context.Context, jobID string) error {
	slog.InfoContext(ctx, "dispatching population task in-process", "job_id", jobID)

	go func() {
		if err := d.populate(context.Background(), jobID); err != nil {
			slog.Error("direct population task failed", "job_id", jobID, "error", err)
		}
	}()

	return nil
}
