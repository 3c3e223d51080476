package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/deckforge/deckd/internal/app/ledger"
	"github.com/deckforge/deckd/internal/domain"
	"github.com/deckforge/deckd/internal/infra/observability"
	"github.com/deckforge/deckd/internal/infra/sqlite"
	"github.com/deckforge/deckd/internal/stage"
)

// ─── Test Harness ───────────────────────────────────────────────────────────

// scripted lets tests replace individual stage behaviors; zero-value fields
// fall through to the static adapter.
type scripted struct {
	static  *stage.Static
	outline func(context.Context, domain.GenerationInput) (*domain.Outline, error)
	writer  func(context.Context, domain.SlidePlan, string) (*domain.SlideBody, error)
	layout  func(context.Context, domain.SlideBody, domain.SlideType) (string, error)
}

func (s *scripted) GenerateOutline(ctx context.Context, in domain.GenerationInput) (*domain.Outline, error) {
	if s.outline != nil {
		return s.outline(ctx, in)
	}
	return s.static.GenerateOutline(ctx, in)
}

func (s *scripted) GenerateSlideContent(ctx context.Context, plan domain.SlidePlan, language string) (*domain.SlideBody, error) {
	if s.writer != nil {
		return s.writer(ctx, plan, language)
	}
	return s.static.GenerateSlideContent(ctx, plan, language)
}

func (s *scripted) SuggestLayout(ctx context.Context, body domain.SlideBody, slideType domain.SlideType) (string, error) {
	if s.layout != nil {
		return s.layout(ctx, body, slideType)
	}
	return s.static.SuggestLayout(ctx, body, slideType)
}

type harness struct {
	db     *sqlite.DB
	ledger *ledger.Service
	orch   *Orchestrator
	adapt  *scripted

	currentJobID string // set by tests that need the job ID inside an adapter
}

func newHarness(t *testing.T, balance int64) *harness {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	led := ledger.New(db)
	if err := led.EnsureAccount("acct-1"); err != nil {
		t.Fatalf("EnsureAccount() error: %v", err)
	}
	if balance > 0 {
		if err := led.Credit("acct-1", balance, domain.TxPurchase, "test funds"); err != nil {
			t.Fatalf("Credit() error: %v", err)
		}
	}

	adapt := &scripted{static: stage.NewStatic()}
	cfg := DefaultConfig()
	cfg.StageTimeout = 5 * time.Second
	orch := New(cfg, db, led, domain.StageAdapters{Outline: adapt, Writer: adapt, Layout: adapt},
		observability.NewTracer(observability.DefaultTracerConfig()))
	return &harness{db: db, ledger: led, orch: orch, adapt: adapt}
}

// runOne claims the next queued job and processes it synchronously.
func (h *harness) runOne(t *testing.T) *domain.GenerationJob {
	t.Helper()
	job, err := h.db.ClaimNextQueued()
	if err != nil {
		t.Fatalf("ClaimNextQueued() error: %v", err)
	}
	if job == nil {
		t.Fatal("ClaimNextQueued() = nil, want a job")
	}
	h.orch.process(job)
	got, err := h.db.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	return got
}

func countKinds(t *testing.T, db *sqlite.DB, jobID string) map[domain.TransactionKind]int {
	t.Helper()
	txs, err := db.TransactionsForJob(jobID)
	if err != nil {
		t.Fatalf("TransactionsForJob() error: %v", err)
	}
	counts := make(map[domain.TransactionKind]int)
	for _, tx := range txs {
		counts[tx.Kind]++
	}
	return counts
}

// ─── Happy Path ─────────────────────────────────────────────────────────────

// Balance 100, 10 slides at 2 credits each: the job completes, 20 credits
// settle, 80 remain, and the deck has exactly 10 slides.
func TestGenerationSettlesOnCompletion(t *testing.T) {
	h := newHarness(t, 100)

	job, err := h.orch.Submit("acct-1", domain.GenerationInput{
		Content: "AI in Retail\nSource material.", SlideCount: 10,
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	done := h.runOne(t)
	if done.Status != domain.JobCompleted {
		t.Fatalf("status = %s (%s), want COMPLETED", done.Status, done.Error)
	}
	if done.Progress != domain.ProgressComplete {
		t.Errorf("progress = %d, want 100", done.Progress)
	}

	sum, err := h.ledger.Balance("acct-1")
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if sum.Balance != 80 {
		t.Errorf("balance = %d, want 80", sum.Balance)
	}
	if sum.Reserved != 0 {
		t.Errorf("reserved = %d, want 0", sum.Reserved)
	}

	counts := countKinds(t, h.db, job.ID)
	if counts[domain.TxSettlement] != 1 {
		t.Errorf("settlements = %d, want exactly 1", counts[domain.TxSettlement])
	}
	if counts[domain.TxRelease] != 0 {
		t.Errorf("releases = %d, want 0", counts[domain.TxRelease])
	}

	pres, err := h.db.GetPresentation(job.PresentationID)
	if err != nil {
		t.Fatalf("GetPresentation() error: %v", err)
	}
	if pres.Status != domain.PresentationCompleted {
		t.Errorf("presentation status = %s, want COMPLETED", pres.Status)
	}
	slides, err := h.db.ListSlides(job.PresentationID)
	if err != nil {
		t.Fatalf("ListSlides() error: %v", err)
	}
	if len(slides) != 10 {
		t.Errorf("slides = %d, want 10", len(slides))
	}
	for _, s := range slides {
		if s.Layout == "" {
			t.Errorf("slide %d has empty layout", s.Order)
		}
	}
}

// ─── Submission Gate ────────────────────────────────────────────────────────

// Balance 100, 60 slides at 2 credits each costs 120: the request is
// rejected and nothing is persisted.
func TestSubmitRejectsUnaffordableRequest(t *testing.T) {
	h := newHarness(t, 100)

	_, err := h.orch.Submit("acct-1", domain.GenerationInput{Content: "big deck", SlideCount: 60})
	if err != domain.ErrInsufficientCredits {
		t.Fatalf("Submit() error = %v, want ErrInsufficientCredits", err)
	}

	jobs, err := h.db.ListJobs("", 10)
	if err != nil {
		t.Fatalf("ListJobs() error: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("jobs persisted = %d, want 0", len(jobs))
	}
	txs, err := h.ledger.Transactions("acct-1", 100)
	if err != nil {
		t.Fatalf("Transactions() error: %v", err)
	}
	if len(txs) != 1 { // just the funding purchase
		t.Errorf("transactions = %d, want 1", len(txs))
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, 100)

	cases := []domain.GenerationInput{
		{Content: "", SlideCount: 5},
		{Content: "   ", SlideCount: 5},
		{Content: "ok", SlideCount: 0},
		{Content: "ok", SlideCount: 101},
	}
	for _, in := range cases {
		if _, err := h.orch.Submit("acct-1", in); err == nil {
			t.Errorf("Submit(%+v) error = nil, want invalid request", in)
		}
	}
}

func TestSubmitUnknownAccount(t *testing.T) {
	h := newHarness(t, 100)
	if _, err := h.orch.Submit("nobody", domain.GenerationInput{Content: "x", SlideCount: 2}); err != domain.ErrAccountNotFound {
		t.Fatalf("Submit() error = %v, want ErrAccountNotFound", err)
	}
}

// ─── Stage Failures ─────────────────────────────────────────────────────────

// Content failure mid-deck fails the job with exactly one release and no
// settlement; the balance is untouched.
func TestContentFailureReleasesHold(t *testing.T) {
	h := newHarness(t, 100)
	h.adapt.writer = func(ctx context.Context, plan domain.SlidePlan, lang string) (*domain.SlideBody, error) {
		if plan.Order == 2 {
			return nil, fmt.Errorf("model refused")
		}
		return h.adapt.static.GenerateSlideContent(ctx, plan, lang)
	}

	job, err := h.orch.Submit("acct-1", domain.GenerationInput{Content: "deck", SlideCount: 5})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	done := h.runOne(t)
	if done.Status != domain.JobFailed {
		t.Fatalf("status = %s, want FAILED", done.Status)
	}
	if done.Error == "" {
		t.Error("failed job has empty error")
	}

	counts := countKinds(t, h.db, job.ID)
	if counts[domain.TxReservation] != 1 || counts[domain.TxRelease] != 1 || counts[domain.TxSettlement] != 0 {
		t.Errorf("kinds = %v, want 1 reservation, 1 release, 0 settlements", counts)
	}

	sum, err := h.ledger.Balance("acct-1")
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if sum.Balance != 100 || sum.Available != 100 {
		t.Errorf("balance/available = %d/%d, want 100/100", sum.Balance, sum.Available)
	}

	pres, err := h.db.GetPresentation(job.PresentationID)
	if err != nil {
		t.Fatalf("GetPresentation() error: %v", err)
	}
	if pres.Status != domain.PresentationFailed {
		t.Errorf("presentation status = %s, want FAILED", pres.Status)
	}
}

// An outline with the wrong slide count violates the stage contract.
func TestOutlineCountMismatchFailsJob(t *testing.T) {
	h := newHarness(t, 100)
	h.adapt.outline = func(ctx context.Context, in domain.GenerationInput) (*domain.Outline, error) {
		return &domain.Outline{Title: "short", Slides: []domain.SlidePlan{{Order: 1, Title: "only one", Type: domain.SlideTitle}}}, nil
	}

	job, err := h.orch.Submit("acct-1", domain.GenerationInput{Content: "deck", SlideCount: 4})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	done := h.runOne(t)
	if done.Status != domain.JobFailed {
		t.Fatalf("status = %s, want FAILED", done.Status)
	}
	counts := countKinds(t, h.db, job.ID)
	if counts[domain.TxRelease] != 1 {
		t.Errorf("releases = %d, want 1", counts[domain.TxRelease])
	}
}

// A stage that exceeds its deadline fails the job as a timeout.
func TestStageTimeoutFailsJob(t *testing.T) {
	h := newHarness(t, 100)
	h.orch.cfg.StageTimeout = 50 * time.Millisecond
	h.adapt.outline = func(ctx context.Context, in domain.GenerationInput) (*domain.Outline, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if _, err := h.orch.Submit("acct-1", domain.GenerationInput{Content: "deck", SlideCount: 3}); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	done := h.runOne(t)
	if done.Status != domain.JobFailed {
		t.Fatalf("status = %s, want FAILED", done.Status)
	}
}

// Layout failure is non-fatal: the slide gets the type default and the job
// still completes.
func TestLayoutFailureFallsBack(t *testing.T) {
	h := newHarness(t, 100)
	h.adapt.layout = func(context.Context, domain.SlideBody, domain.SlideType) (string, error) {
		return "", fmt.Errorf("layout service down")
	}

	job, err := h.orch.Submit("acct-1", domain.GenerationInput{Content: "Deck Title", SlideCount: 3})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	done := h.runOne(t)
	if done.Status != domain.JobCompleted {
		t.Fatalf("status = %s (%s), want COMPLETED", done.Status, done.Error)
	}

	slides, err := h.db.ListSlides(job.PresentationID)
	if err != nil {
		t.Fatalf("ListSlides() error: %v", err)
	}
	if slides[0].Layout != stage.DefaultLayout(domain.SlideTitle) {
		t.Errorf("slide 1 layout = %q, want type default %q", slides[0].Layout, stage.DefaultLayout(domain.SlideTitle))
	}
}

// ─── Reservation Gate ───────────────────────────────────────────────────────

// Submission only pre-checks; the reservation at claim time is the real
// admission gate. Two affordable-looking jobs against one small balance:
// the second fails when it cannot place its hold.
func TestReserveAtClaimPreventsOvercommit(t *testing.T) {
	h := newHarness(t, 10)

	for i := 0; i < 2; i++ {
		if _, err := h.orch.Submit("acct-1", domain.GenerationInput{Content: "deck", SlideCount: 5}); err != nil {
			t.Fatalf("Submit() #%d error: %v", i+1, err)
		}
	}

	// Both pass the submit-time pre-check; claim both, then process.
	first, err := h.db.ClaimNextQueued()
	if err != nil || first == nil {
		t.Fatalf("claim first: %v %v", first, err)
	}
	second, err := h.db.ClaimNextQueued()
	if err != nil || second == nil {
		t.Fatalf("claim second: %v %v", second, err)
	}

	h.orch.process(first)
	h.orch.process(second)

	a, _ := h.db.GetJob(first.ID)
	b, _ := h.db.GetJob(second.ID)
	if a.Status != domain.JobCompleted {
		t.Errorf("first job status = %s, want COMPLETED", a.Status)
	}
	if b.Status != domain.JobFailed {
		t.Errorf("second job status = %s, want FAILED", b.Status)
	}
	if counts := countKinds(t, h.db, b.ID); counts[domain.TxReservation] != 0 {
		t.Errorf("second job reservations = %d, want 0", counts[domain.TxReservation])
	}

	sum, err := h.ledger.Balance("acct-1")
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if sum.Balance != 0 {
		t.Errorf("balance = %d, want 0", sum.Balance)
	}
}

// ─── Worker Pool ────────────────────────────────────────────────────────────

func TestWorkerPoolProcessesQueue(t *testing.T) {
	h := newHarness(t, 100)
	h.orch.cfg.PollInterval = 10 * time.Millisecond

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := h.orch.Submit("acct-1", domain.GenerationInput{Content: "deck", SlideCount: 2})
		if err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
		ids = append(ids, job.ID)
	}

	h.orch.Start()
	deadline := time.After(5 * time.Second)
	for {
		allDone := true
		for _, id := range ids {
			job, err := h.db.GetJob(id)
			if err != nil {
				t.Fatalf("GetJob() error: %v", err)
			}
			if !job.Status.Terminal() {
				allDone = false
			}
		}
		if allDone {
			break
		}
		select {
		case <-deadline:
			t.Fatal("jobs did not finish within deadline")
		case <-time.After(20 * time.Millisecond):
		}
	}
	h.orch.Stop()

	for _, id := range ids {
		job, _ := h.db.GetJob(id)
		if job.Status != domain.JobCompleted {
			t.Errorf("job %s status = %s, want COMPLETED", id, job.Status)
		}
	}
	sum, _ := h.ledger.Balance("acct-1")
	if sum.Balance != 100-3*4 {
		t.Errorf("balance = %d, want 88", sum.Balance)
	}
}
