package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

// Actor identifies the caller of scoped operations. Super-admins see every
// entity's jobs; everyone else only their own.
type Actor struct {
	Entity     domain.Entity
	SuperAdmin bool
}

// JobService orchestrates the provisioning job lifecycle: admission with
// quota enforcement, storefront assignment, OAuth completion, and the
// population trigger.
type JobService struct {
	repo       domain.JobRepository
	plans      domain.PlanSource
	handoff    domain.AuthHandoff
	dispatcher domain.TaskDispatcher
	validator  domain.TransitionValidator

	// Only user entities are quota-limited unless this is set. Company
	// plans may enforce limits elsewhere, so the default stays permissive.
	enforceCompanyQuota bool
}

// NewJobService creates a service with the given adapters.
func NewJobService(
	repo domain.JobRepository,
	plans domain.PlanSource,
	handoff domain.AuthHandoff,
	dispatcher domain.TaskDispatcher,
	validator domain.TransitionValidator,
	enforceCompanyQuota bool,
) *JobService {
	return &JobService{
		repo:                repo,
		plans:               plans,
		handoff:             handoff,
		dispatcher:          dispatcher,
		validator:           validator,
		enforceCompanyQuota: enforceCompanyQuota,
	}
}

// Create admits a new provisioning job for the entity, enforcing the
// entity's site limit, and persists it in the pending state.
func (s *JobService) Create(ctx context.Context, entity domain.Entity, spec domain.JobSpec) (domain.Job, error) {
	if entity.Type != domain.EntityUser && entity.Type != domain.EntityCompany {
		return domain.Job{}, &domain.ValidationError{Field: "entity.type", Reason: fmt.Sprintf("unknown entity type %q", entity.Type)}
	}
	if entity.ID == "" {
		return domain.Job{}, &domain.ValidationError{Field: "entity.id", Reason: "must not be empty"}
	}

	if err := s.checkQuota(ctx, entity); err != nil {
		return domain.Job{}, err
	}

	job := domain.NewJob(uuid.NewString(), entity, spec)

	if err := s.repo.Create(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("creating job: %w", err)
	}

	if err := s.repo.AppendLog(ctx, job.ID, "Job created and queued."); err != nil {
		return domain.Job{}, fmt.Errorf("logging job creation: %w", err)
	}

	return job, nil
}

func (s *JobService) checkQuota(ctx context.Context, entity domain.Entity) error {
	if entity.Type == domain.EntityCompany && !s.enforceCompanyQuota {
		return nil
	}

	limit, err := s.plans.SiteLimit(ctx, entity)
	if err != nil {
		return fmt.Errorf("resolving site limit: %w", err)
	}

	count, err := s.repo.CountByEntity(ctx, entity)
	if err != nil {
		return fmt.Errorf("counting jobs: %w", err)
	}

	if count >= limit {
		return &domain.QuotaExceededError{Entity: entity, Limit: limit}
	}
	return nil
}

// Assign attaches a storefront to a pending job and returns the install URL
// the human authorizer must visit. Reassignment after authorization has
// started is rejected with a conflict.
func (s *JobService) Assign(ctx context.Context, jobID, storeDomain, externalShopID string) (string, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}

	next, err := s.validator.Apply(ctx, job.Status, domain.EventAssign)
	if err != nil {
		return "", s.conflictFrom(ctx, job, domain.EventAssign, err)
	}

	installURL, err := s.handoff.InstallURL(storeDomain, job.Spec.CallerBaseURL, job.ID)
	if err != nil {
		return "", err
	}

	assignment := domain.Assignment{
		StoreDomain:    storeDomain,
		ExternalShopID: externalShopID,
		InstallURL:     installURL,
	}
	update := domain.JobUpdate{Status: &next, Assignment: &assignment}
	if err := s.repo.Update(ctx, job.ID, update, &job.Status); err != nil {
		return "", err
	}

	if err := s.repo.AppendLog(ctx, job.ID, fmt.Sprintf("Storefront %s assigned, awaiting authorization.", storeDomain)); err != nil {
		return "", fmt.Errorf("logging assignment: %w", err)
	}

	return installURL, nil
}

// Authorize completes the OAuth handoff: the opaque state parameter from
// the redirect is the job id, and an unrecognized one is an authentication
// failure, never a fuzzy match.
func (s *JobService) Authorize(ctx context.Context, state, code string) error {
	if state == "" {
		return &domain.AuthenticationError{Reason: "missing state token"}
	}
	if code == "" {
		return &domain.ValidationError{Field: "code", Reason: "must not be empty"}
	}

	job, err := s.repo.GetByID(ctx, state)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return &domain.AuthenticationError{Reason: "unrecognized state token"}
		}
		return err
	}

	next, err := s.validator.Apply(ctx, job.Status, domain.EventAuthorize)
	if err != nil {
		return s.conflictFrom(ctx, job, domain.EventAuthorize, err)
	}

	if job.Assignment == nil {
		return &domain.ConflictError{JobID: job.ID, Expected: domain.StatusAwaitingAuth, Observed: job.Status}
	}

	credential, err := s.handoff.ExchangeCode(ctx, job.Assignment.StoreDomain, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	update := domain.JobUpdate{Status: &next, Credential: &credential}
	if err := s.repo.Update(ctx, job.ID, update, &job.Status); err != nil {
		return err
	}

	if err := s.repo.AppendLog(ctx, job.ID, "Authorization completed, storefront access granted."); err != nil {
		return fmt.Errorf("logging authorization: %w", err)
	}

	return nil
}

// TriggerPopulate asks the dispatcher to run the population step. It does
// not change the job's status; the population task does that itself.
func (s *JobService) TriggerPopulate(ctx context.Context, jobID string) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status != domain.StatusAuthorized && job.Status != domain.StatusPopulating {
		return &domain.ConflictError{JobID: job.ID, Expected: domain.StatusAuthorized, Observed: job.Status}
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		return fmt.Errorf("dispatching population task: %w", err)
	}
	return nil
}

// GetByID returns a job by its unique identifier.
func (s *JobService) GetByID(ctx context.Context, id string) (domain.Job, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns jobs visible to the actor. Non-super-admin callers are
// always scoped to their own entity regardless of the requested filter.
func (s *JobService) List(ctx context.Context, actor Actor, filter domain.ListFilter) ([]domain.Job, error) {
	if !actor.SuperAdmin {
		filter.Entity = &actor.Entity
	}
	return s.repo.List(ctx, filter)
}

// Delete removes a job and releases its quota. This is the only
// cancellation path; an in-flight population task detects the missing
// record and abandons cleanly.
func (s *JobService) Delete(ctx context.Context, actor Actor, id string) error {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !actor.SuperAdmin && job.Entity != actor.Entity {
		return &domain.AuthenticationError{Reason: "job belongs to another entity"}
	}

	return s.repo.Delete(ctx, id)
}

// conflictFrom logs a rejected transition and converts the validator error
// into a ConflictError. Out-of-order transitions fail closed and are never
// silently ignored.
func (s *JobService) conflictFrom(ctx context.Context, job domain.Job, event domain.Event, err error) error {
	var trErr *domain.TransitionError
	if !errors.As(err, &trErr) {
		return err
	}

	msg := fmt.Sprintf("Rejected %s: job is %s.", event, job.Status)
	if logErr := s.repo.AppendLog(ctx, job.ID, msg); logErr != nil {
		return fmt.Errorf("logging rejected transition: %w", logErr)
	}

	return &domain.ConflictError{JobID: job.ID, Expected: expectedFor(event), Observed: job.Status}
}

// expectedFor returns the canonical source state for an event, used to
// report which state the rejected transition required.
func expectedFor(event domain.Event) domain.Status {
	for _, t := range domain.Transitions {
		if t.Event == event {
			return t.Src
		}
	}
	return ""
}
