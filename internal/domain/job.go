package domain

import "time"

// Status represents the lifecycle state of a provisioning job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAwaitingAuth Status = "awaiting_auth"
	StatusAuthorized   Status = "authorized"
	StatusPopulating   Status = "populating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Event represents an action that triggers a state transition.
type Event string

const (
	EventAssign        Event = "assign"
	EventAuthorize     Event = "authorize"
	EventStartPopulate Event = "start_populate"
	EventComplete      Event = "complete"
	EventFail          Event = "fail"
)

// Transition defines a valid state change: an event moves a job from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid state changes in the job lifecycle.
// Status only ever advances; there is no path out of a terminal state.
// This is domain knowledge consumed by the FSM adapter.
var Transitions = []Transition{
	{Event: EventAssign, Src: StatusPending, Dst: StatusAwaitingAuth},
	{Event: EventAuthorize, Src: StatusAwaitingAuth, Dst: StatusAuthorized},
	{Event: EventStartPopulate, Src: StatusAuthorized, Dst: StatusPopulating},
	{Event: EventComplete, Src: StatusPopulating, Dst: StatusCompleted},
	{Event: EventFail, Src: StatusAwaitingAuth, Dst: StatusFailed},
	{Event: EventFail, Src: StatusAuthorized, Dst: StatusFailed},
	{Event: EventFail, Src: StatusPopulating, Dst: StatusFailed},
}

// EntityType identifies the kind of tenant that owns a job.
type EntityType string

const (
	EntityUser    EntityType = "user"
	EntityCompany EntityType = "company"
)

// Entity is the tenant (user or company) that owns a job. It is set at
// creation and never changes; quota and access checks key off it.
type Entity struct {
	Type EntityType
	ID   string
}

// ContentOptions selects which content the population step creates.
type ContentOptions struct {
	Pages      bool
	Products   bool
	Navigation bool
	ThemeCopy  bool
}

// JobSpec is the immutable creation payload of a job.
type JobSpec struct {
	StoreName        string
	BusinessEmail    string
	Country          string
	Currency         string
	BrandDescription string
	TargetAudience   string
	Content          ContentOptions
	LegalName        string
	WebhookURL       string
	CallerBaseURL    string
}

// Assignment holds the storefront assigned to a job during the handoff.
// Set once; reassignment is rejected once authorization has started.
type Assignment struct {
	StoreDomain    string
	ExternalShopID string
	InstallURL     string
}

// Result describes the provisioned storefront. Populated only on success.
type Result struct {
	StoreURL           string
	AdminURL           string
	StorefrontPassword string
}

// LogEntry is one line of a job's append-only audit trail.
type LogEntry struct {
	At      time.Time
	Message string
}

// Job is the central entity: one request to provision and populate a
// storefront. The only shared mutable resource across the admission
// request, the OAuth callback, and the population task.
type Job struct {
	ID         string
	Status     Status
	Entity     Entity
	Spec       JobSpec
	Assignment *Assignment
	// Credential is the access token obtained after OAuth completes.
	// Opaque to the orchestrator; the repository stores it encrypted.
	Credential string
	Result     *Result
	Logs       []LogEntry
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewJob creates a job in the initial "pending" state.
func NewJob(id string, entity Entity, spec JobSpec) Job {
	now := time.Now().UTC()
	return Job{
		ID:        id,
		Status:    StatusPending,
		Entity:    entity,
		Spec:      spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
