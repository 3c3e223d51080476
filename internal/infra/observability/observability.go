// Package observability provides stage tracing and Prometheus metrics for
// the generation pipeline and the credit ledger.
//
// This provides:
//   - Trace spans for the job lifecycle (submit → claim → outline → content → design → settle)
//   - Prometheus metrics for jobs, stages and ledger operations
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans — Lightweight span tracking without external OTel SDK dependency
// ═══════════════════════════════════════════════════════════════════════════

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Span represents a unit of work within a job trace, typically one stage.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer records recent stage spans in a ring buffer for operator
// inspection via the admin API.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 10_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 10_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span for the given operation. The job ID from the
// context (WithJobTrace) becomes the trace ID, so all of a job's stage
// spans group together. Caller must call EndSpan when done.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation}
	}
	return &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    generateID(),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const traceIDKey contextKey = "deckd-trace-id"

// WithJobTrace returns a context whose spans are grouped under the job ID.
func WithJobTrace(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, traceIDKey, jobID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return generateID()
}

// generateID creates a short unique ID (not cryptographically secure — fine for tracing).
var spanCounter atomic.Int64

func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Job Metrics ────────────────────────────────────────────────────────────

// JobsSubmitted tracks total generation jobs accepted.
var JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "deckd",
	Subsystem: "jobs",
	Name:      "submitted_total",
	Help:      "Total generation jobs accepted into the queue.",
})

// JobsFinished tracks jobs reaching a terminal state, by outcome.
var JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "deckd",
	Subsystem: "jobs",
	Name:      "finished_total",
	Help:      "Total jobs reaching a terminal state, by outcome.",
}, []string{"outcome"})

// JobsRejected tracks submissions rejected before a job was created.
var JobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "deckd",
	Subsystem: "jobs",
	Name:      "rejected_total",
	Help:      "Total submissions rejected before a job was created, by reason.",
}, []string{"reason"})

// QueueDepth tracks the number of QUEUED jobs.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "deckd",
	Subsystem: "jobs",
	Name:      "queue_depth",
	Help:      "Current number of jobs waiting in the queue.",
})

// ActiveWorkers tracks workers currently processing a job.
var ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "deckd",
	Subsystem: "jobs",
	Name:      "active_workers",
	Help:      "Workers currently processing a job.",
})

// ─── Stage Metrics ──────────────────────────────────────────────────────────

// StageDuration tracks per-stage wall time.
var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "deckd",
	Subsystem: "stages",
	Name:      "duration_seconds",
	Help:      "Stage adapter call duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
}, []string{"stage"})

// StageFailures tracks stage failures by stage and kind.
var StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "deckd",
	Subsystem: "stages",
	Name:      "failures_total",
	Help:      "Total stage failures, by stage and kind.",
}, []string{"stage", "kind"})

// LayoutFallbacks tracks layout suggestions replaced by the default layout.
var LayoutFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "deckd",
	Subsystem: "stages",
	Name:      "layout_fallbacks_total",
	Help:      "Total layout suggestions that fell back to the default layout.",
})

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// CreditsReserved tracks credits placed on hold.
var CreditsReserved = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "deckd",
	Subsystem: "ledger",
	Name:      "credits_reserved_total",
	Help:      "Total credits placed on hold for jobs.",
})

// CreditsSettled tracks credits permanently debited.
var CreditsSettled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "deckd",
	Subsystem: "ledger",
	Name:      "credits_settled_total",
	Help:      "Total credits permanently debited for completed jobs.",
})

// CreditsReleased tracks credits returned to availability.
var CreditsReleased = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "deckd",
	Subsystem: "ledger",
	Name:      "credits_released_total",
	Help:      "Total held credits released back to availability.",
})

// InsufficientCredits tracks reservation attempts that failed the balance check.
var InsufficientCredits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "deckd",
	Subsystem: "ledger",
	Name:      "insufficient_credits_total",
	Help:      "Total reservation attempts rejected for insufficient credits.",
})
