package domain

import "context"

// JobUpdate carries the mutable fields a transition may change. Nil fields
// are left untouched.
type JobUpdate struct {
	Status     *Status
	Assignment *Assignment
	Credential *string
	Result     *Result
}

// ListFilter holds optional criteria for listing jobs.
type ListFilter struct {
	Entity *Entity
	Status *Status
	Limit  int
	Offset int
}

// JobRepository defines the persistence contract for jobs.
//
// Update takes an optional expected status: when non-nil and the stored
// status differs, the repository returns a ConflictError and applies
// nothing. This compare-and-set is what serializes concurrent writers.
// AppendLog is atomic; concurrent appenders never lose entries.
type JobRepository interface {
	Create(ctx context.Context, job Job) error
	GetByID(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, filter ListFilter) ([]Job, error)
	CountByEntity(ctx context.Context, entity Entity) (int, error)
	Update(ctx context.Context, id string, update JobUpdate, expected *Status) error
	AppendLog(ctx context.Context, id string, message string) error
	Delete(ctx context.Context, id string) error
}

// TransitionValidator checks whether an event may be applied to a job in
// its current state and returns the destination state.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// PlanSource resolves the site limit configured for an entity's plan.
// Plan configuration lives outside the orchestrator.
type PlanSource interface {
	SiteLimit(ctx context.Context, entity Entity) (int, error)
}

// TaskDispatcher defers the population step so it runs outside the
// triggering request. Implementations submit exactly once; redelivery and
// backoff belong to the queue infrastructure, not the dispatcher.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// AuthHandoff builds the installation URL a human must authorize and
// exchanges the resulting authorization code for an access credential.
type AuthHandoff interface {
	InstallURL(storeDomain, callerBaseURL, jobID string) (string, error)
	ExchangeCode(ctx context.Context, storeDomain, code string) (string, error)
}

// StoreAccess identifies a storefront and carries the credential for it.
type StoreAccess struct {
	Domain string
	Token  string
}

// PageContent is one storefront page to create.
type PageContent struct {
	Handle string
	Title  string
	Body   string
}

// ProductContent is one seed product to create.
type ProductContent struct {
	Handle      string
	Title       string
	Description string
}

// NavLink is one navigation menu entry to create.
type NavLink struct {
	Title string
	Path  string
}

// ThemeAsset is one theme file to write, keyed by its path in the theme.
type ThemeAsset struct {
	Key   string
	Value string
}

// StorefrontClient wraps the commerce platform API surface the populator
// needs. Every Ensure operation looks the object up first and creates it
// only when absent, so re-running a step never duplicates content.
type StorefrontClient interface {
	EnsurePage(ctx context.Context, access StoreAccess, page PageContent) error
	EnsureProduct(ctx context.Context, access StoreAccess, product ProductContent) error
	EnsureNavLink(ctx context.Context, access StoreAccess, link NavLink) error
	EnsureThemeAsset(ctx context.Context, access StoreAccess, asset ThemeAsset) error
	StorefrontDetails(ctx context.Context, access StoreAccess) (Result, error)
}

// ContentPlan is the structured output of the content generator.
type ContentPlan struct {
	Pages     []PageContent
	Products  []ProductContent
	NavLinks  []NavLink
	ThemeCopy []ThemeAsset
}

// ContentGenerator produces storefront content from a job's creation
// payload. The generation strategy is opaque to the orchestrator.
type ContentGenerator interface {
	Generate(ctx context.Context, spec JobSpec) (ContentPlan, error)
}
