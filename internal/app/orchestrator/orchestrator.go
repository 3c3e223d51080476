// Package orchestrator drives generation jobs through the three-stage
// pipeline — outline, per-slide content, design — while keeping the credit
// ledger consistent with the outcome.
//
// The lifecycle of one job:
//  1. Submit checks available balance and persists a QUEUED job (no hold yet)
//  2. A worker claims the job and places the reservation
//  3. Stages run in order; cancellation is honored between stages and
//     between slides, never mid-call
//  4. COMPLETED settles the hold; FAILED and CANCELLED release it
//
// Exactly one of settle/release happens per run. The job row is the queue
// entry, so a crash recovers by requeueing in-flight rows at startup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deckforge/deckd/internal/app/ledger"
	"github.com/deckforge/deckd/internal/domain"
	"github.com/deckforge/deckd/internal/infra/observability"
	"github.com/deckforge/deckd/internal/infra/sqlite"
	"github.com/deckforge/deckd/internal/stage"
)

// Config controls orchestrator behavior.
type Config struct {
	Workers       int           // concurrent generation workers (default: 4)
	PollInterval  time.Duration // queue poll cadence (default: 500ms)
	StageTimeout  time.Duration // deadline for one adapter call (default: 2m)
	CostPerSlide  int64         // credits charged per slide (default: 2)
	MaxSlideCount int           // upper bound on requested slides (default: 100)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		PollInterval:  500 * time.Millisecond,
		StageTimeout:  2 * time.Minute,
		CostPerSlide:  2,
		MaxSlideCount: 100,
	}
}

// Orchestrator owns the worker pool and the job lifecycle.
type Orchestrator struct {
	cfg      Config
	db       *sqlite.DB
	ledger   *ledger.Service
	adapters domain.StageAdapters
	tracer   *observability.Tracer

	mu        sync.RWMutex
	active    int
	completed int64
	failed    int64
	cancelled int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an orchestrator. Call Start to launch the workers.
func New(cfg Config, db *sqlite.DB, led *ledger.Service, adapters domain.StageAdapters, tracer *observability.Tracer) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultConfig().StageTimeout
	}
	if cfg.CostPerSlide <= 0 {
		cfg.CostPerSlide = DefaultConfig().CostPerSlide
	}
	if cfg.MaxSlideCount <= 0 {
		cfg.MaxSlideCount = DefaultConfig().MaxSlideCount
	}
	return &Orchestrator{
		cfg:      cfg,
		db:       db,
		ledger:   led,
		adapters: adapters,
		tracer:   tracer,
		stop:     make(chan struct{}),
	}
}

// EstimateCost returns the credits a deck of the given size will cost.
func (o *Orchestrator) EstimateCost(slideCount int) int64 {
	return int64(slideCount) * o.cfg.CostPerSlide
}

// ─── Submission ─────────────────────────────────────────────────────────────

// Submit validates a generation request, checks the account can afford it
// and persists a QUEUED job with its draft presentation. No credits are held
// at submit time; the worker reserves when it picks the job up. Insufficient
// balance rejects the request without creating anything.
func (o *Orchestrator) Submit(accountID string, in domain.GenerationInput) (*domain.GenerationJob, error) {
	if err := o.validateInput(in); err != nil {
		observability.JobsRejected.WithLabelValues("invalid_input").Inc()
		return nil, err
	}
	if in.Language == "" {
		in.Language = "en"
	}

	cost := o.EstimateCost(in.SlideCount)
	ok, err := o.ledger.CheckBalance(accountID, cost)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.JobsRejected.WithLabelValues("insufficient_credits").Inc()
		return nil, domain.ErrInsufficientCredits
	}

	job := domain.GenerationJob{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		PresentationID: uuid.NewString(),
		Status:         domain.JobQueued,
		Input:          in,
	}
	if err := o.db.InsertPresentation(domain.Presentation{
		ID:         job.PresentationID,
		AccountID:  accountID,
		Status:     domain.PresentationGenerating,
		SlideCount: in.SlideCount,
		Language:   in.Language,
	}); err != nil {
		return nil, fmt.Errorf("persist presentation: %w", err)
	}
	if err := o.db.InsertJob(job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	observability.JobsSubmitted.Inc()
	observability.QueueDepth.Inc()
	log.Printf("[orchestrator] job %s queued: %d slides for account %s (cost %d)",
		job.ID, in.SlideCount, accountID, cost)
	return &job, nil
}

func (o *Orchestrator) validateInput(in domain.GenerationInput) error {
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("%w: content is required", domain.ErrInvalidRequest)
	}
	if in.SlideCount < 1 || in.SlideCount > o.cfg.MaxSlideCount {
		return fmt.Errorf("%w: slide count must be 1-%d", domain.ErrInvalidRequest, o.cfg.MaxSlideCount)
	}
	return nil
}

// ─── Worker Pool ────────────────────────────────────────────────────────────

// Start launches the worker pool.
func (o *Orchestrator) Start() {
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	log.Printf("[orchestrator] started %d workers (poll %s, stage timeout %s)",
		o.cfg.Workers, o.cfg.PollInterval, o.cfg.StageTimeout)
}

// Stop shuts the pool down. In-flight jobs run to their next stage boundary;
// anything still mid-flight when the process exits is requeued at the next
// start.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	o.wg.Wait()
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.drain(id)
		}
	}
}

// drain claims and processes jobs until the queue is empty or shutdown.
func (o *Orchestrator) drain(workerID int) {
	for {
		select {
		case <-o.stop:
			return
		default:
		}
		job, err := o.db.ClaimNextQueued()
		if err == domain.ErrJobClaimed {
			continue
		}
		if err != nil {
			log.Printf("[orchestrator] worker %d: claim failed: %v", workerID, err)
			return
		}
		if job == nil {
			return
		}
		observability.QueueDepth.Dec()
		o.process(job)
	}
}

// ─── Job Processing ─────────────────────────────────────────────────────────

// process runs one claimed job through the pipeline. Every exit path leaves
// the job terminal and its reservation resolved.
func (o *Orchestrator) process(job *domain.GenerationJob) {
	o.mu.Lock()
	o.active++
	o.mu.Unlock()
	observability.ActiveWorkers.Inc()
	defer func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
		observability.ActiveWorkers.Dec()
	}()

	ctx := observability.WithJobTrace(context.Background(), job.ID)
	log.Printf("[orchestrator] processing job %s (%d slides)", job.ID, job.Input.SlideCount)

	// Place the hold. A requeued job may still carry one from before the
	// crash; reuse it instead of double-reserving.
	amount, err := o.ensureReservation(job)
	if err != nil {
		// Nothing held yet, so fail without a release.
		o.finalize(job.ID, domain.JobFailed, fmt.Sprintf("reserve credits: %v", err), false)
		return
	}
	if err := o.db.SetJobReservation(job.ID, amount); err != nil {
		log.Printf("[orchestrator] job %s: record reservation: %v", job.ID, err)
	}

	// Stage 1: outline.
	if o.cancelledAtBoundary(job.ID, "before outline") {
		return
	}
	outline, stageErr := o.runOutline(ctx, job)
	if stageErr != nil {
		o.finalize(job.ID, domain.JobFailed, stageErr.Error(), true)
		return
	}
	if err := o.db.UpdateJobProgress(job.ID, domain.ProgressOutlineDone); err == domain.ErrJobTerminal {
		o.abandonRun(job.ID)
		return
	}

	// Stage 2: per-slide content.
	if o.cancelledAtBoundary(job.ID, "before content") {
		return
	}
	if !o.advanceStage(job.ID, domain.JobGeneratingContent, domain.ProgressOutlineDone) {
		return
	}
	slides, stageErr := o.runContent(ctx, job, outline)
	if stageErr != nil {
		if stageErr.Stage == "cancel" {
			return // already finalized at a slide boundary
		}
		o.finalize(job.ID, domain.JobFailed, stageErr.Error(), true)
		return
	}

	// Stage 3: design and persistence.
	if o.cancelledAtBoundary(job.ID, "before design") {
		return
	}
	if !o.advanceStage(job.ID, domain.JobApplyingDesign, domain.ProgressContentDone) {
		return
	}
	if stageErr := o.runPersist(ctx, job, outline.Title, slides); stageErr != nil {
		o.finalize(job.ID, domain.JobFailed, stageErr.Error(), true)
		return
	}
	if err := o.db.UpdateJobProgress(job.ID, domain.ProgressPersisting); err == domain.ErrJobTerminal {
		o.abandonRun(job.ID)
		return
	}

	// Settle before marking COMPLETED: a job must never read as completed
	// while the charge is still pending.
	if err := o.ledger.Settle(job.ID); err != nil {
		if err == domain.ErrNoOpenReservation {
			// A force-stop released the hold while we were persisting.
			// The stop wins and finalizes the job as cancelled.
			log.Printf("[orchestrator] job %s: hold resolved externally, backing off", job.ID)
			return
		}
		o.finalize(job.ID, domain.JobFailed, fmt.Sprintf("settle credits: %v", err), true)
		return
	}
	o.finalize(job.ID, domain.JobCompleted, "", false)
}

// ensureReservation returns the amount held for this run, reserving fresh
// credits unless an open hold already exists.
func (o *Orchestrator) ensureReservation(job *domain.GenerationJob) (int64, error) {
	resv, err := o.db.GetReservation(job.ID)
	if err == nil && resv.Status == domain.ReservationOpen {
		return resv.Amount, nil
	}
	if err != nil && err != domain.ErrNoOpenReservation {
		return 0, err
	}
	cost := o.EstimateCost(job.Input.SlideCount)
	if err := o.ledger.Reserve(job.AccountID, cost, job.ID); err != nil {
		return 0, err
	}
	return cost, nil
}

// advanceStage moves a claimed job to its next pipeline status. A false
// return means the run must stop: either the job went terminal under us
// (a cancel or force-stop won the race and already resolved the hold), or
// the write failed and the job was finalized FAILED here.
func (o *Orchestrator) advanceStage(jobID string, status domain.JobStatus, progress int) bool {
	err := o.db.UpdateJobStage(jobID, status, progress)
	switch {
	case err == nil:
		return true
	case err == domain.ErrJobTerminal:
		o.abandonRun(jobID)
	default:
		o.finalize(jobID, domain.JobFailed, fmt.Sprintf("advance to %s: %v", status, err), true)
	}
	return false
}

// abandonRun logs that admin control terminated the job mid-run. The
// terminal state and the hold were both resolved by whoever won the race;
// the worker just walks away.
func (o *Orchestrator) abandonRun(jobID string) {
	log.Printf("[orchestrator] job %s: terminated externally, abandoning run", jobID)
}

// cancelledAtBoundary checks the cooperative flag and, when set, finalizes
// the job as CANCELLED with its hold released.
func (o *Orchestrator) cancelledAtBoundary(jobID, boundary string) bool {
	flagged, err := o.db.CancelRequested(jobID)
	if err != nil {
		log.Printf("[orchestrator] job %s: read cancel flag: %v", jobID, err)
		return false
	}
	if !flagged {
		return false
	}
	log.Printf("[orchestrator] job %s: cancel honored %s", jobID, boundary)
	o.finalize(jobID, domain.JobCancelled, "cancelled by request", true)
	return true
}

// finalize moves the job terminal, releases the hold when asked, and counts
// the outcome. Losing a finalize race to admin control is not an error.
func (o *Orchestrator) finalize(jobID string, status domain.JobStatus, errMsg string, release bool) {
	if err := o.db.FinishJob(jobID, status, errMsg); err != nil {
		if err == domain.ErrJobTerminal {
			log.Printf("[orchestrator] job %s: already finalized", jobID)
			return
		}
		log.Printf("[orchestrator] job %s: finalize %s: %v", jobID, status, err)
		return
	}
	if release {
		if err := o.ledger.Release(jobID); err != nil && err != domain.ErrNoOpenReservation {
			log.Printf("[orchestrator] job %s: release hold: %v", jobID, err)
		}
	}

	o.mu.Lock()
	switch status {
	case domain.JobCompleted:
		o.completed++
	case domain.JobCancelled:
		o.cancelled++
	default:
		o.failed++
	}
	o.mu.Unlock()

	outcome := strings.ToLower(string(status))
	observability.JobsFinished.WithLabelValues(outcome).Inc()
	if errMsg != "" {
		log.Printf("[orchestrator] job %s %s: %s", jobID, outcome, errMsg)
	} else {
		log.Printf("[orchestrator] job %s %s", jobID, outcome)
	}
}

// ─── Stages ─────────────────────────────────────────────────────────────────

// runOutline plans the deck. The slide count contract is enforced here:
// an outline of the wrong length is a stage failure, not a partial result.
func (o *Orchestrator) runOutline(ctx context.Context, job *domain.GenerationJob) (*domain.Outline, *domain.StageError) {
	var outline *domain.Outline
	stageErr := o.runStage(ctx, job.ID, "outline", func(stageCtx context.Context) error {
		var err error
		outline, err = o.adapters.Outline.GenerateOutline(stageCtx, job.Input)
		if err != nil {
			return err
		}
		return outline.Validate(job.Input.SlideCount)
	})
	if stageErr != nil {
		return nil, stageErr
	}
	return outline, nil
}

// runContent generates every slide in outline order. Content failure is
// fatal; layout failure falls back to the slide type's default. Returns a
// pseudo stage error with Stage == "cancel" when a cancel was honored at a
// slide boundary (the job is already finalized then).
func (o *Orchestrator) runContent(ctx context.Context, job *domain.GenerationJob, outline *domain.Outline) ([]domain.Slide, *domain.StageError) {
	total := len(outline.Slides)
	slides := make([]domain.Slide, 0, total)

	for i, plan := range outline.Slides {
		if i > 0 && o.cancelledAtBoundary(job.ID, fmt.Sprintf("at slide %d/%d", i+1, total)) {
			return nil, &domain.StageError{Stage: "cancel"}
		}

		var body *domain.SlideBody
		stageErr := o.runStage(ctx, job.ID, "content", func(stageCtx context.Context) error {
			var err error
			body, err = o.adapters.Writer.GenerateSlideContent(stageCtx, plan, job.Input.Language)
			return err
		})
		if stageErr != nil {
			stageErr.Err = fmt.Errorf("slide %d/%d: %w", i+1, total, stageErr.Err)
			return nil, stageErr
		}

		layout := o.suggestLayout(ctx, job.ID, *body, plan.Type)

		slides = append(slides, domain.Slide{
			PresentationID: job.PresentationID,
			Order:          plan.Order,
			Title:          plan.Title,
			Type:           plan.Type,
			Layout:         layout,
			Body:           *body,
		})
		if err := o.db.UpdateJobProgress(job.ID, domain.ContentProgress(i+1, total)); err == domain.ErrJobTerminal {
			o.abandonRun(job.ID)
			return nil, &domain.StageError{Stage: "cancel"}
		}
	}
	return slides, nil
}

// suggestLayout asks the adapter for a layout and falls back to the type
// default on any failure. Never fails the job.
func (o *Orchestrator) suggestLayout(ctx context.Context, jobID string, body domain.SlideBody, slideType domain.SlideType) string {
	var layout string
	stageErr := o.runStage(ctx, jobID, "layout", func(stageCtx context.Context) error {
		var err error
		layout, err = o.adapters.Layout.SuggestLayout(stageCtx, body, slideType)
		return err
	})
	if stageErr != nil || layout == "" {
		observability.LayoutFallbacks.Inc()
		return stage.DefaultLayout(slideType)
	}
	return layout
}

// runPersist writes the finished deck under the design stage.
func (o *Orchestrator) runPersist(ctx context.Context, job *domain.GenerationJob, title string, slides []domain.Slide) *domain.StageError {
	return o.runStage(ctx, job.ID, "design", func(context.Context) error {
		return o.db.WriteDeck(job.PresentationID, title, slides)
	})
}

// runStage executes one adapter call under the stage timeout, recording a
// trace span and duration/failure metrics. Errors come back as StageError
// so callers can distinguish timeouts.
func (o *Orchestrator) runStage(ctx context.Context, jobID, name string, fn func(context.Context) error) *domain.StageError {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	span := o.tracer.StartSpan(ctx, name, map[string]string{"job_id": jobID})
	start := time.Now()
	err := fn(stageCtx)
	observability.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	o.tracer.EndSpan(span, err)

	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		observability.StageFailures.WithLabelValues(name, "timeout").Inc()
		return domain.NewStageTimeout(name, err)
	}
	observability.StageFailures.WithLabelValues(name, "error").Inc()
	return domain.NewStageError(name, true, err)
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats is a point-in-time snapshot of the worker pool.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Stats returns current worker statistics.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Stats{
		Workers:   o.cfg.Workers,
		Active:    o.active,
		Completed: o.completed,
		Failed:    o.failed,
		Cancelled: o.cancelled,
	}
}
