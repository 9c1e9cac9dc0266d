// Package content provides the built-in ContentGenerator. The real
// generation strategy is an external collaborator; this implementation
// derives deterministic copy from the job spec so the orchestrator runs
// end to end without one.
package content

import (
	"context"
	"fmt"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

// Compile-time check: Generator implements domain.ContentGenerator.
var _ domain.ContentGenerator = (*Generator)(nil)

// Generator builds a content plan from the job's creation payload.
type Generator struct{}

// New creates a static content generator.
func New() *Generator {
	return &Generator{}
}

// Generate produces the same plan for the same spec, which keeps repeated
// population runs convergent.
func (g *Generator) Generate(_ context.Context, spec domain.JobSpec) (domain.ContentPlan, error) {
	about := fmt.Sprintf("<h1>About %s</h1><p>%s</p>", spec.StoreName, spec.BrandDescription)
	contact := fmt.Sprintf("<h1>Contact</h1><p>Reach us at %s.</p>", spec.BusinessEmail)
	faq := fmt.Sprintf("<h1>FAQ</h1><p>Answers for %s.</p>", spec.TargetAudience)

	plan := domain.ContentPlan{
		Pages: []domain.PageContent{
			{Handle: "about-us", Title: "About " + spec.StoreName, Body: about},
			{Handle: "contact", Title: "Contact", Body: contact},
			{Handle: "faq", Title: "FAQ", Body: faq},
		},
		Products: []domain.ProductContent{
			{
				Handle:      "featured-item",
				Title:       spec.StoreName + " Featured Item",
				Description: fmt.Sprintf("<p>A first product for %s.</p>", spec.TargetAudience),
			},
		},
		NavLinks: []domain.NavLink{
			{Title: "About", Path: "/pages/about-us"},
			{Title: "Contact", Path: "/pages/contact"},
			{Title: "FAQ", Path: "/pages/faq"},
		},
		ThemeCopy: []domain.ThemeAsset{
			{
				Key:   "sections/announcement.liquid",
				Value: fmt.Sprintf("Welcome to %s", spec.StoreName),
			},
		},
	}

	if spec.LegalName != "" {
		plan.Pages = append(plan.Pages, domain.PageContent{
			Handle: "legal",
			Title:  "Legal Notice",
			Body:   fmt.Sprintf("<h1>Legal Notice</h1><p>%s</p>", spec.LegalName),
		})
		plan.NavLinks = append(plan.NavLinks, domain.NavLink{Title: "Legal", Path: "/pages/legal"})
	}

	return plan, nil
}
