package stage

import "github.com/deckforge/deckd/internal/domain"

// defaultLayouts maps each slide type to its fallback layout. Used whenever
// the layout stage fails or suggests something we don't recognize.
var defaultLayouts = map[domain.SlideType]string{
	domain.SlideTitle:   "hero",
	domain.SlideContent: "bullets",
	domain.SlideQuote:   "quote-centered",
	domain.SlideChart:   "chart-full",
	domain.SlideImage:   "image-right",
	domain.SlideClosing: "closing-centered",
}

var knownLayouts = []string{
	"hero",
	"bullets",
	"two-column",
	"quote-centered",
	"chart-full",
	"image-right",
	"image-left",
	"closing-centered",
}

// DefaultLayout returns the fallback layout for a slide type. Unknown types
// get the content default.
func DefaultLayout(t domain.SlideType) string {
	if l, ok := defaultLayouts[t]; ok {
		return l
	}
	return defaultLayouts[domain.SlideContent]
}

// KnownLayouts lists every layout name the renderer understands.
func KnownLayouts() []string {
	out := make([]string, len(knownLayouts))
	copy(out, knownLayouts)
	return out
}

// ValidLayout reports whether the name is a renderer-known layout.
func ValidLayout(name string) bool {
	for _, l := range knownLayouts {
		if l == name {
			return true
		}
	}
	return false
}
