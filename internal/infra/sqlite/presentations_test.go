package sqlite

import (
	"errors"
	"testing"

	"github.com/deckforge/deckd/internal/domain"
)

func TestWriteDeck_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	if err := db.InsertPresentation(domain.Presentation{
		ID:        "pres-1",
		AccountID: "acct-1",
		Status:    domain.PresentationGenerating,
		Language:  "en",
	}); err != nil {
		t.Fatalf("InsertPresentation() error: %v", err)
	}

	slides := []domain.Slide{
		{
			PresentationID: "pres-1", Order: 1, Title: "Welcome",
			Type: domain.SlideTitle, Layout: "hero",
			Body: domain.SlideBody{Heading: "Welcome", Subheading: "Q3 2026"},
		},
		{
			PresentationID: "pres-1", Order: 2, Title: "Numbers",
			Type: domain.SlideContent, Layout: "bullets",
			Body: domain.SlideBody{Heading: "Numbers", Bullets: []string{"up 12%", "churn down"}},
		},
	}
	if err := db.WriteDeck("pres-1", "Q3 Review", slides); err != nil {
		t.Fatalf("WriteDeck() error: %v", err)
	}

	pres, err := db.GetPresentation("pres-1")
	if err != nil {
		t.Fatalf("GetPresentation() error: %v", err)
	}
	if pres.Title != "Q3 Review" {
		t.Errorf("Title = %q, want %q", pres.Title, "Q3 Review")
	}
	if pres.SlideCount != 2 {
		t.Errorf("SlideCount = %d, want 2", pres.SlideCount)
	}
	// WriteDeck does not flip status; the terminal job transition does.
	if pres.Status != domain.PresentationGenerating {
		t.Errorf("Status = %s, want GENERATING", pres.Status)
	}

	got, err := db.ListSlides("pres-1")
	if err != nil {
		t.Fatalf("ListSlides() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(slides) = %d, want 2", len(got))
	}
	if got[0].Layout != "hero" {
		t.Errorf("slides[0].Layout = %q, want hero", got[0].Layout)
	}
	if len(got[1].Body.Bullets) != 2 {
		t.Errorf("slides[1] bullets = %v, want 2 entries", got[1].Body.Bullets)
	}
}

func TestWriteDeck_ReplacesOnRetry(t *testing.T) {
	db := newTestDB(t)
	db.InsertPresentation(domain.Presentation{ID: "pres-1", AccountID: "acct-1", Status: domain.PresentationGenerating})

	first := []domain.Slide{{PresentationID: "pres-1", Order: 1, Title: "old"}}
	if err := db.WriteDeck("pres-1", "v1", first); err != nil {
		t.Fatalf("first WriteDeck() error: %v", err)
	}
	second := []domain.Slide{
		{PresentationID: "pres-1", Order: 1, Title: "new"},
		{PresentationID: "pres-1", Order: 2, Title: "extra"},
	}
	if err := db.WriteDeck("pres-1", "v2", second); err != nil {
		t.Fatalf("second WriteDeck() error: %v", err)
	}

	slides, _ := db.ListSlides("pres-1")
	if len(slides) != 2 {
		t.Fatalf("len(slides) = %d, want 2 (old deck replaced)", len(slides))
	}
	if slides[0].Title != "new" {
		t.Errorf("slides[0].Title = %q, want new", slides[0].Title)
	}
}

func TestWriteDeck_UnknownPresentation(t *testing.T) {
	db := newTestDB(t)
	err := db.WriteDeck("ghost", "t", nil)
	if !errors.Is(err, domain.ErrPresentationNotFound) {
		t.Errorf("error = %v, want ErrPresentationNotFound", err)
	}
}

func TestMarkPresentationStatus(t *testing.T) {
	db := newTestDB(t)
	db.InsertPresentation(domain.Presentation{ID: "pres-1", AccountID: "acct-1", Status: domain.PresentationGenerating})

	if err := db.MarkPresentationStatus("pres-1", domain.PresentationCancelled); err != nil {
		t.Fatalf("MarkPresentationStatus() error: %v", err)
	}
	pres, _ := db.GetPresentation("pres-1")
	if pres.Status != domain.PresentationCancelled {
		t.Errorf("Status = %s, want CANCELLED", pres.Status)
	}
}

func TestGetPresentation_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetPresentation("ghost"); !errors.Is(err, domain.ErrPresentationNotFound) {
		t.Errorf("error = %v, want ErrPresentationNotFound", err)
	}
}
