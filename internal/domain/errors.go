package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Ledger errors
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAccountNotFound     = errors.New("account not found")
	ErrNoOpenReservation   = errors.New("no open reservation for job")
	ErrInvalidAmount       = errors.New("amount must be positive")

	// Job errors
	ErrJobNotFound    = errors.New("job not found")
	ErrJobTerminal    = errors.New("job already in a terminal state")
	ErrNotRetryable   = errors.New("only failed jobs can be retried")
	ErrJobClaimed     = errors.New("job already claimed by another worker")
	ErrInvalidRequest = errors.New("invalid generation request")

	// Presentation errors
	ErrPresentationNotFound = errors.New("presentation not found")
)

// ─── Stage Errors ───────────────────────────────────────────────────────────

// StageError is the result contract of a failed stage adapter call.
// Retryable is a hint surfaced to the operator; nothing inside a single job
// run ever retries automatically.
type StageError struct {
	Stage     string
	Retryable bool
	Timeout   bool
	Err       error
}

func (e *StageError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("stage %s timed out: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps an adapter failure for the given stage.
func NewStageError(stage string, retryable bool, err error) *StageError {
	return &StageError{Stage: stage, Retryable: retryable, Err: err}
}

// NewStageTimeout marks a stage that exceeded its deadline.
func NewStageTimeout(stage string, err error) *StageError {
	return &StageError{Stage: stage, Retryable: true, Timeout: true, Err: err}
}
