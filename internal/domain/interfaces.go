package domain

import "context"

// ─── Stage Adapter Interfaces ───────────────────────────────────────────────
// These interfaces define the boundary to the external generation
// capabilities. Infrastructure implements them; the orchestrator depends on
// them and treats every call as a black box with a result-or-failure
// contract (*StageError on failure).

// OutlineGenerator plans the deck: title plus exactly SlideCount slide
// descriptors. Returning a different count is a contract violation the
// orchestrator treats as a stage failure.
type OutlineGenerator interface {
	GenerateOutline(ctx context.Context, in GenerationInput) (*Outline, error)
}

// SlideWriter produces the content for a single planned slide.
type SlideWriter interface {
	GenerateSlideContent(ctx context.Context, plan SlidePlan, language string) (*SlideBody, error)
}

// LayoutSuggester picks a layout name for a generated slide. Unlike the two
// adapters above, its failure is non-fatal: callers fall back to a default
// layout for the slide type instead of failing the job.
type LayoutSuggester interface {
	SuggestLayout(ctx context.Context, body SlideBody, slideType SlideType) (string, error)
}

// StageAdapters bundles the three capabilities a job run needs.
type StageAdapters struct {
	Outline OutlineGenerator
	Writer  SlideWriter
	Layout  LayoutSuggester
}
