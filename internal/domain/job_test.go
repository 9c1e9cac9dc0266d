package domain_test

import (
	"testing"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

func TestNewJob_InitialState(t *testing.T) {
	entity := domain.Entity{Type: domain.EntityUser, ID: "u1"}
	spec := domain.JobSpec{StoreName: "Acme Goods", BusinessEmail: "owner@acme.example"}

	job := domain.NewJob("j-1", entity, spec)

	if job.ID != "j-1" {
		t.Errorf("ID = %q, want %q", job.ID, "j-1")
	}
	if job.Status != domain.StatusPending {
		t.Errorf("Status = %q, want %q", job.Status, domain.StatusPending)
	}
	if job.Entity != entity {
		t.Errorf("Entity = %+v, want %+v", job.Entity, entity)
	}
	if job.Spec.StoreName != "Acme Goods" {
		t.Errorf("StoreName = %q, want %q", job.Spec.StoreName, "Acme Goods")
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
	if job.Assignment != nil {
		t.Error("Assignment should start nil")
	}
	if job.Result != nil {
		t.Error("Result should start nil")
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []domain.Status{domain.StatusCompleted, domain.StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%q.IsTerminal() = false, want true", s)
		}
	}

	active := []domain.Status{
		domain.StatusPending,
		domain.StatusAwaitingAuth,
		domain.StatusAuthorized,
		domain.StatusPopulating,
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%q.IsTerminal() = true, want false", s)
		}
	}
}

// TestTransitions_NoExitFromTerminal verifies the transition table never
// allows leaving a terminal state.
func TestTransitions_NoExitFromTerminal(t *testing.T) {
	for _, tr := range domain.Transitions {
		if tr.Src.IsTerminal() {
			t.Errorf("transition %q leaves terminal state %q", tr.Event, tr.Src)
		}
	}
}

// TestTransitions_FailReachableFromEveryActivePhase verifies each phase
// after creation can fail.
func TestTransitions_FailReachableFromEveryActivePhase(t *testing.T) {
	failFrom := map[domain.Status]bool{}
	for _, tr := range domain.Transitions {
		if tr.Event == domain.EventFail {
			if tr.Dst != domain.StatusFailed {
				t.Errorf("fail transition from %q goes to %q, want %q", tr.Src, tr.Dst, domain.StatusFailed)
			}
			failFrom[tr.Src] = true
		}
	}

	for _, src := range []domain.Status{domain.StatusAwaitingAuth, domain.StatusAuthorized, domain.StatusPopulating} {
		if !failFrom[src] {
			t.Errorf("no fail transition from %q", src)
		}
	}
}
