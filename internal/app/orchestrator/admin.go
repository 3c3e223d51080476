package orchestrator

import (
	"fmt"
	"log"

	"github.com/deckforge/deckd/internal/domain"
	"github.com/deckforge/deckd/internal/infra/observability"
)

// ─── Admin Control ──────────────────────────────────────────────────────────
// Operator actions on jobs. Admin never mutates worker-owned state directly:
// cancel sets the cooperative flag and only finalizes jobs no worker holds.

// Retry returns a FAILED job to the queue. The old reservation was released
// when the job failed, so the retry run places a fresh hold; retrying any
// other state reports ErrNotRetryable.
func (o *Orchestrator) Retry(jobID string) (*domain.GenerationJob, error) {
	if err := o.db.ResetForRetry(jobID); err != nil {
		return nil, err
	}
	observability.QueueDepth.Inc()
	log.Printf("[orchestrator] job %s requeued for retry", jobID)
	return o.db.GetJob(jobID)
}

// Cancel requests cancellation of a job. A QUEUED job is finalized
// immediately (workers skip flagged rows, so nobody can claim it after the
// flag is set); a processing job stops at its next stage or slide boundary.
// Terminal jobs report ErrJobTerminal.
func (o *Orchestrator) Cancel(jobID string) (*domain.GenerationJob, error) {
	if err := o.db.RequestCancel(jobID); err != nil {
		return nil, err
	}

	job, err := o.db.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobQueued {
		observability.QueueDepth.Dec()
		o.finalize(jobID, domain.JobCancelled, "cancelled by request", true)
		return o.db.GetJob(jobID)
	}
	log.Printf("[orchestrator] job %s: cancel requested, stopping at next boundary", jobID)
	return job, nil
}

// ForceStopActive terminates every non-terminal job and releases every one
// of their holds. Incident tooling: workers mid-stage lose the finalize race
// and back off when they observe the terminal state.
//
// The hold is resolved before the job row is touched. Settle and release
// are mutually exclusive on one hold, so whichever side wins decides the
// outcome: a hold the worker already settled means the deck is durably
// persisted, and that job finishes COMPLETED rather than CANCELLED with a
// standing charge.
func (o *Orchestrator) ForceStopActive() (int, error) {
	jobs, err := o.db.ActiveJobs()
	if err != nil {
		return 0, err
	}

	stopped := 0
	for _, job := range jobs {
		// Flag first so a worker between boundaries stops on its own even
		// if it wins a progress write after this.
		if err := o.db.RequestCancel(job.ID); err != nil && err != domain.ErrJobTerminal {
			log.Printf("[orchestrator] force stop: flag job %s: %v", job.ID, err)
		}
		if job.Status == domain.JobQueued {
			observability.QueueDepth.Dec()
		}

		switch err := o.ledger.Release(job.ID); {
		case err == nil:
			// Hold released; the worker's settle now loses and backs off.
			o.finalize(job.ID, domain.JobCancelled, "force stopped by operator", false)
			stopped++
		case err == domain.ErrNoOpenReservation:
			if resv, rerr := o.db.GetReservation(job.ID); rerr == nil && resv.Status == domain.ReservationSettled {
				log.Printf("[orchestrator] force stop: job %s already settled, finishing as completed", job.ID)
				o.finalize(job.ID, domain.JobCompleted, "", false)
				continue
			}
			// Never reserved: the job had not been claimed yet.
			o.finalize(job.ID, domain.JobCancelled, "force stopped by operator", false)
			stopped++
		default:
			log.Printf("[orchestrator] force stop: release hold for job %s: %v", job.ID, err)
			o.finalize(job.ID, domain.JobCancelled, "force stopped by operator", true)
			stopped++
		}
	}
	log.Printf("[orchestrator] force stop: terminated %d jobs", stopped)
	return stopped, nil
}

// QueueStatus is the operator view of the queue and the worker pool.
type QueueStatus struct {
	Queued     int   `json:"queued"`
	Processing int   `json:"processing"`
	Stats      Stats `json:"workers"`
}

// QueueStatus reports queue depth and worker statistics.
func (o *Orchestrator) QueueStatus() (*QueueStatus, error) {
	queued, processing, err := o.db.QueueCounts()
	if err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}
	return &QueueStatus{
		Queued:     queued,
		Processing: processing,
		Stats:      o.Stats(),
	}, nil
}
