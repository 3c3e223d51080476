package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/deckforge/deckd/internal/domain"
)

// Static is a deterministic adapter used when no API key is configured.
// It produces plausible deck structure from the source content so the full
// pipeline, ledger included, can run locally and in tests.
type Static struct{}

// NewStatic creates the offline adapter.
func NewStatic() *Static { return &Static{} }

// GenerateOutline derives a title from the first line of the content and
// plans exactly the requested number of slides.
func (s *Static) GenerateOutline(ctx context.Context, in domain.GenerationInput) (*domain.Outline, error) {
	title := strings.TrimSpace(strings.SplitN(in.Content, "\n", 2)[0])
	if title == "" {
		title = "Untitled Presentation"
	}
	if r := []rune(title); len(r) > 80 {
		title = string(r[:80])
	}

	slides := make([]domain.SlidePlan, in.SlideCount)
	for i := range slides {
		plan := domain.SlidePlan{
			Order: i + 1,
			Type:  domain.SlideContent,
			Title: fmt.Sprintf("Section %d", i+1),
		}
		switch {
		case i == 0:
			plan.Type = domain.SlideTitle
			plan.Title = title
		case i == in.SlideCount-1 && in.SlideCount > 1:
			plan.Type = domain.SlideClosing
			plan.Title = "Summary"
		}
		slides[i] = plan
	}
	return &domain.Outline{Title: title, Slides: slides}, nil
}

// GenerateSlideContent echoes the plan back as slide content.
func (s *Static) GenerateSlideContent(ctx context.Context, plan domain.SlidePlan, language string) (*domain.SlideBody, error) {
	body := &domain.SlideBody{
		Heading: plan.Title,
		Bullets: plan.KeyPoints,
	}
	if len(body.Bullets) == 0 {
		body.Bullets = []string{plan.Title}
	}
	return body, nil
}

// SuggestLayout returns the type default.
func (s *Static) SuggestLayout(ctx context.Context, body domain.SlideBody, slideType domain.SlideType) (string, error) {
	return DefaultLayout(slideType), nil
}

// Adapters bundles the static implementation for all three stages.
func (s *Static) Adapters() domain.StageAdapters {
	return domain.StageAdapters{Outline: s, Writer: s, Layout: s}
}
