// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"fmt"
	"time"
)

// ─── Job Types ──────────────────────────────────────────────────────────────

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobQueued            JobStatus = "QUEUED"
	JobGeneratingOutline JobStatus = "GENERATING_OUTLINE"
	JobGeneratingContent JobStatus = "GENERATING_CONTENT"
	JobApplyingDesign    JobStatus = "APPLYING_DESIGN"
	JobCompleted         JobStatus = "COMPLETED"
	JobFailed            JobStatus = "FAILED"
	JobCancelled         JobStatus = "CANCELLED"
)

// Terminal reports whether the status is an end state. Terminal jobs are
// never advanced again except by an explicit admin retry.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Processing reports whether a worker currently owns the job.
func (s JobStatus) Processing() bool {
	return s == JobGeneratingOutline || s == JobGeneratingContent || s == JobApplyingDesign
}

// ValidTransition reports whether from → to is a legal job transition.
// FAILED and CANCELLED are reachable from any non-terminal state; the only
// way back out of a terminal state is FAILED → QUEUED (admin retry).
func ValidTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return from == JobFailed && to == JobQueued
	}
	switch to {
	case JobFailed, JobCancelled:
		return true
	case JobQueued:
		return from.Processing() // crash-recovery requeue
	case JobGeneratingOutline:
		return from == JobQueued
	case JobGeneratingContent:
		return from == JobGeneratingOutline
	case JobApplyingDesign:
		return from == JobGeneratingContent
	case JobCompleted:
		return from == JobApplyingDesign
	default:
		return false
	}
}

// GenerationInput is the caller-supplied request a job is created from.
type GenerationInput struct {
	Content    string `json:"content"`
	SlideCount int    `json:"slide_count"`
	Language   string `json:"language"`
	Style      string `json:"style,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
}

// GenerationJob is one request to turn source content into a slide deck.
// The job row is the durable queue entry: workers claim QUEUED rows and own
// status/progress exclusively until a terminal state. Admin control only
// ever sets the cancellation flag.
type GenerationJob struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	PresentationID  string          `json:"presentation_id"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	ReservedAmount  int64           `json:"reserved_amount"`
	Input           GenerationInput `json:"input"`
	Error           string          `json:"error,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// ─── Progress ───────────────────────────────────────────────────────────────

// Progress milestones. Content generation advances linearly between
// ProgressOutlineDone and ProgressContentDone as slides complete.
const (
	ProgressOutlineStart = 10
	ProgressOutlineDone  = 30
	ProgressContentDone  = 80
	ProgressPersisting   = 85
	ProgressComplete     = 100
)

// ContentProgress maps "done of total slides" onto the 30–80 band.
func ContentProgress(done, total int) int {
	if total <= 0 {
		return ProgressContentDone
	}
	if done > total {
		done = total
	}
	span := ProgressContentDone - ProgressOutlineDone
	return ProgressOutlineDone + span*done/total
}

// ─── Outline and Slide Types ────────────────────────────────────────────────

// SlideType classifies a slide for layout purposes.
type SlideType string

const (
	SlideTitle   SlideType = "title"
	SlideContent SlideType = "content"
	SlideQuote   SlideType = "quote"
	SlideChart   SlideType = "chart"
	SlideImage   SlideType = "image"
	SlideClosing SlideType = "closing"
)

// SlidePlan is one slide descriptor from the outline stage.
type SlidePlan struct {
	Order     int       `json:"order"`
	Title     string    `json:"title"`
	Type      SlideType `json:"type"`
	KeyPoints []string  `json:"key_points,omitempty"`
}

// Outline is the deck plan produced by the outline stage. The slide list
// length must equal the requested slide count; anything else is a contract
// violation by the adapter.
type Outline struct {
	Title  string      `json:"title"`
	Slides []SlidePlan `json:"slides"`
}

// Validate checks the outline against the requested slide count.
func (o *Outline) Validate(slideCount int) error {
	if len(o.Slides) != slideCount {
		return fmt.Errorf("outline returned %d slides, want %d", len(o.Slides), slideCount)
	}
	return nil
}

// SlideBody is the generated content for a single slide.
type SlideBody struct {
	Heading    string   `json:"heading,omitempty"`
	Subheading string   `json:"subheading,omitempty"`
	Body       string   `json:"body,omitempty"`
	Bullets    []string `json:"bullets,omitempty"`
}

// Slide is a fully generated slide ready for persistence.
type Slide struct {
	PresentationID string    `json:"presentation_id"`
	Order          int       `json:"order"`
	Title          string    `json:"title"`
	Type           SlideType `json:"type"`
	Layout         string    `json:"layout"`
	Body           SlideBody `json:"body"`
}

// ─── Presentation Types ─────────────────────────────────────────────────────

// PresentationStatus mirrors the owning job's terminal status. A presentation
// is created in GENERATING when its job starts and shares fate with the job.
type PresentationStatus string

const (
	PresentationGenerating PresentationStatus = "GENERATING"
	PresentationCompleted  PresentationStatus = "COMPLETED"
	PresentationFailed     PresentationStatus = "FAILED"
	PresentationCancelled  PresentationStatus = "CANCELLED"
)

// Presentation is the output deck owned by exactly one generation job.
type Presentation struct {
	ID         string             `json:"id"`
	AccountID  string             `json:"account_id"`
	Title      string             `json:"title"`
	Status     PresentationStatus `json:"status"`
	SlideCount int                `json:"slide_count"`
	Language   string             `json:"language"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// PresentationStatusFor maps a terminal job status onto the presentation.
func PresentationStatusFor(s JobStatus) PresentationStatus {
	switch s {
	case JobCompleted:
		return PresentationCompleted
	case JobCancelled:
		return PresentationCancelled
	default:
		return PresentationFailed
	}
}
