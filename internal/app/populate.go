package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

// Population retry bounds for transient platform errors (rate limits,
// 5xx). Anything still failing after maxAttempts escalates to job failure;
// the queue's own redelivery then takes over at the outer level.
const (
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
)

// Populator executes the population step of a job. It is the component the
// task queue re-invokes under at-least-once delivery, so Run is idempotent:
// terminal and missing jobs are absorbed, and every platform call goes
// through lookup-before-create operations.
type Populator struct {
	repo      domain.JobRepository
	store     domain.StorefrontClient
	generator domain.ContentGenerator
	validator domain.TransitionValidator

	maxAttempts int
	backoff     time.Duration
}

// NewPopulator creates a populator with default retry bounds.
func NewPopulator(
	repo domain.JobRepository,
	store domain.StorefrontClient,
	generator domain.ContentGenerator,
	validator domain.TransitionValidator,
) *Populator {
	return &Populator{
		repo:        repo,
		store:       store,
		generator:   generator,
		validator:   validator,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// WithRetry overrides the retry bounds. Tests use tiny backoffs.
func (p *Populator) WithRetry(maxAttempts int, backoff time.Duration) *Populator {
	p.maxAttempts = maxAttempts
	p.backoff = backoff
	return p
}

// Run drives a job through content population. Safe to call repeatedly:
// a job already completed or failed returns nil immediately, a deleted job
// is abandoned cleanly, and a job stuck in populating is resumed.
func (p *Populator) Run(ctx context.Context, jobID string) error {
	job, err := p.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// Deleted while the task was in flight. Ack, don't error.
			slog.InfoContext(ctx, "population task abandoned, job deleted", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("loading job: %w", err)
	}

	if job.Status.IsTerminal() {
		slog.InfoContext(ctx, "population task skipped, job already terminal",
			"job_id", job.ID, "status", job.Status)
		return nil
	}

	switch job.Status {
	case domain.StatusAuthorized:
		next, err := p.validator.Apply(ctx, job.Status, domain.EventStartPopulate)
		if err != nil {
			return err
		}
		if err := p.repo.Update(ctx, job.ID, domain.JobUpdate{Status: &next}, &job.Status); err != nil {
			var conflict *domain.ConflictError
			if errors.As(err, &conflict) {
				// A concurrent delivery won the transition; let it finish.
				slog.InfoContext(ctx, "population already started by another delivery", "job_id", job.ID)
				return nil
			}
			return err
		}
		if err := p.repo.AppendLog(ctx, job.ID, "Population started."); err != nil {
			return fmt.Errorf("logging population start: %w", err)
		}
		job.Status = next
	case domain.StatusPopulating:
		// A previous delivery died mid-step; resume. Ensure* operations
		// make re-running completed steps a no-op.
		slog.InfoContext(ctx, "resuming interrupted population", "job_id", job.ID)
	default:
		return &domain.ConflictError{JobID: job.ID, Expected: domain.StatusAuthorized, Observed: job.Status}
	}

	if err := p.populate(ctx, job); err != nil {
		return p.fail(ctx, job, err)
	}

	return nil
}

// populate runs the content-creation steps and finishes the job.
func (p *Populator) populate(ctx context.Context, job domain.Job) error {
	if job.Assignment == nil || job.Credential == "" {
		return &domain.FatalJobError{Step: "preflight", Err: errors.New("job has no storefront assignment or credential")}
	}

	access := domain.StoreAccess{Domain: job.Assignment.StoreDomain, Token: job.Credential}

	plan, err := p.generator.Generate(ctx, job.Spec)
	if err != nil {
		return &domain.FatalJobError{Step: "generate", Err: err}
	}

	if job.Spec.Content.Pages {
		for _, page := range plan.Pages {
			if err := p.withRetry(ctx, "create page "+page.Handle, func() error {
				return p.store.EnsurePage(ctx, access, page)
			}); err != nil {
				return err
			}
		}
	}

	if job.Spec.Content.Products {
		for _, product := range plan.Products {
			if err := p.withRetry(ctx, "create product "+product.Handle, func() error {
				return p.store.EnsureProduct(ctx, access, product)
			}); err != nil {
				return err
			}
		}
	}

	if job.Spec.Content.Navigation {
		for _, link := range plan.NavLinks {
			if err := p.withRetry(ctx, "create nav link "+link.Path, func() error {
				return p.store.EnsureNavLink(ctx, access, link)
			}); err != nil {
				return err
			}
		}
	}

	if job.Spec.Content.ThemeCopy {
		for _, asset := range plan.ThemeCopy {
			if err := p.withRetry(ctx, "write theme asset "+asset.Key, func() error {
				return p.store.EnsureThemeAsset(ctx, access, asset)
			}); err != nil {
				return err
			}
		}
	}

	var result domain.Result
	if err := p.withRetry(ctx, "read storefront details", func() error {
		var detailErr error
		result, detailErr = p.store.StorefrontDetails(ctx, access)
		return detailErr
	}); err != nil {
		return err
	}

	populating := domain.StatusPopulating
	completed := domain.StatusCompleted
	update := domain.JobUpdate{Status: &completed, Result: &result}
	if err := p.repo.Update(ctx, job.ID, update, &populating); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			// Another delivery completed the job first.
			slog.InfoContext(ctx, "population completed by another delivery", "job_id", job.ID)
			return nil
		}
		return err
	}

	if err := p.repo.AppendLog(ctx, job.ID, "Storefront population completed."); err != nil {
		return fmt.Errorf("logging completion: %w", err)
	}

	slog.InfoContext(ctx, "population completed", "job_id", job.ID, "store_url", result.StoreURL)
	return nil
}

// withRetry runs fn, retrying transient platform errors with linear
// backoff. Non-transient errors escalate immediately as fatal.
func (p *Populator) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var transient *domain.TransientExternalError
		if !errors.As(err, &transient) {
			return &domain.FatalJobError{Step: op, Err: err}
		}

		lastErr = err
		slog.WarnContext(ctx, "transient platform error, retrying",
			"op", op, "attempt", attempt, "error", err)

		if attempt < p.maxAttempts {
			select {
			case <-ctx.Done():
				return &domain.FatalJobError{Step: op, Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * p.backoff):
			}
		}
	}
	return &domain.FatalJobError{Step: op, Err: lastErr}
}

// fail marks the job failed and records a human-readable trailing log
// entry, so a failed job never sits unexplained. The original error is
// returned so the queue sees a failing status.
func (p *Populator) fail(ctx context.Context, job domain.Job, cause error) error {
	failed := domain.StatusFailed
	populating := domain.StatusPopulating
	if err := p.repo.Update(ctx, job.ID, domain.JobUpdate{Status: &failed}, &populating); err != nil {
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			slog.ErrorContext(ctx, "marking job failed", "job_id", job.ID, "error", err)
		}
		return cause
	}

	msg := fmt.Sprintf("Population failed: %v", cause)
	if err := p.repo.AppendLog(ctx, job.ID, msg); err != nil {
		slog.ErrorContext(ctx, "logging job failure", "job_id", job.ID, "error", err)
	}

	slog.ErrorContext(ctx, "population failed", "job_id", job.ID, "error", cause)
	return cause
}
