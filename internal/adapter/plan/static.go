// Package plan resolves site limits from plan configuration. The plan
// record itself lives with the billing system; this adapter carries a
// configured table plus a default for entities on no known plan.
package plan

import (
	"context"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

// Compile-time check: Source implements domain.PlanSource.
var _ domain.PlanSource = (*Source)(nil)

// Source is a configuration-backed plan table keyed by entity id.
type Source struct {
	limits       map[string]int
	defaultLimit int
}

// New creates a source. limits may be nil; every unknown entity then gets
// the default limit.
func New(limits map[string]int, defaultLimit int) *Source {
	return &Source{limits: limits, defaultLimit: defaultLimit}
}

// SiteLimit returns the configured site limit for the entity.
func (s *Source) SiteLimit(_ context.Context, entity domain.Entity) (int, error) {
	if limit, ok := s.limits[entity.ID]; ok {
		return limit, nil
	}
	return s.defaultLimit, nil
}
