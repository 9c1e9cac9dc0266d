package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrJobNotFound = errors.New("job not found")
)

// QuotaExceededError is returned when an entity has reached its site limit.
type QuotaExceededError struct {
	Entity Entity
	Limit  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s %q has reached its site limit of %d", e.Entity.Type, e.Entity.ID, e.Limit)
}

// ConflictError is returned when a state transition precondition failed:
// the stored status did not match the expected one. The caller retries the
// outer operation, never the transition in place.
type ConflictError struct {
	JobID    string
	Expected Status
	Observed Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %q is %q, expected %q", e.JobID, e.Observed, e.Expected)
}

// TransitionError is returned when an event is not allowed from a state.
type TransitionError struct {
	Event   Event
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

// ConfigurationError signals missing or invalid operator configuration,
// such as absent platform partner credentials. The message is actionable.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %q: %s", e.Setting, e.Reason)
}

// AuthenticationError is returned when a caller or queue identity is
// missing or invalid. No job logic runs after one of these.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// ValidationError is returned for malformed input that schema validation
// cannot catch, such as a task callback body without a job id.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientExternalError wraps a platform API failure that is worth
// retrying locally, such as a rate limit or a 5xx.
type TransientExternalError struct {
	Op  string
	Err error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// FatalJobError terminates a job as failed. The cause is preserved in the
// job's logs for operator inspection.
type FatalJobError struct {
	Step string
	Err  error
}

func (e *FatalJobError) Error() string {
	return fmt.Sprintf("population step %q failed: %v", e.Step, e.Err)
}

func (e *FatalJobError) Unwrap() error { return e.Err }
