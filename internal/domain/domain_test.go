package domain

import (
	"errors"
	"testing"
)

// ─── Job Status Tests ───────────────────────────────────────────────────────

func TestJobStatus_Terminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobQueued, false},
		{JobGeneratingOutline, false},
		{JobGeneratingContent, false},
		{JobApplyingDesign, false},
		{JobCompleted, true},
		{JobFailed, true},
		{JobCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestValidTransition_HappyPath(t *testing.T) {
	path := []JobStatus{
		JobQueued, JobGeneratingOutline, JobGeneratingContent,
		JobApplyingDesign, JobCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		if !ValidTransition(path[i], path[i+1]) {
			t.Errorf("ValidTransition(%s, %s) = false, want true", path[i], path[i+1])
		}
	}
}

func TestValidTransition_FailureFromAnyActive(t *testing.T) {
	for _, from := range []JobStatus{JobQueued, JobGeneratingOutline, JobGeneratingContent, JobApplyingDesign} {
		if !ValidTransition(from, JobFailed) {
			t.Errorf("ValidTransition(%s, FAILED) = false, want true", from)
		}
		if !ValidTransition(from, JobCancelled) {
			t.Errorf("ValidTransition(%s, CANCELLED) = false, want true", from)
		}
	}
}

func TestValidTransition_TerminalIsSticky(t *testing.T) {
	if ValidTransition(JobCompleted, JobQueued) {
		t.Error("COMPLETED → QUEUED should be rejected")
	}
	if ValidTransition(JobCancelled, JobQueued) {
		t.Error("CANCELLED → QUEUED should be rejected")
	}
	if !ValidTransition(JobFailed, JobQueued) {
		t.Error("FAILED → QUEUED (retry) should be allowed")
	}
}

func TestValidTransition_NoStageSkipping(t *testing.T) {
	if ValidTransition(JobQueued, JobGeneratingContent) {
		t.Error("QUEUED → GENERATING_CONTENT should be rejected")
	}
	if ValidTransition(JobGeneratingOutline, JobCompleted) {
		t.Error("GENERATING_OUTLINE → COMPLETED should be rejected")
	}
}

// ─── Progress Tests ─────────────────────────────────────────────────────────

func TestContentProgress(t *testing.T) {
	tests := []struct {
		done, total int
		want        int
	}{
		{0, 10, 30},
		{5, 10, 55},
		{10, 10, 80},
		{1, 3, 46},
		{3, 3, 80},
		{12, 10, 80}, // clamped
		{0, 0, 80},   // degenerate
	}
	for _, tt := range tests {
		if got := ContentProgress(tt.done, tt.total); got != tt.want {
			t.Errorf("ContentProgress(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestContentProgress_Monotonic(t *testing.T) {
	prev := 0
	for done := 0; done <= 17; done++ {
		p := ContentProgress(done, 17)
		if p < prev {
			t.Fatalf("progress went backwards at done=%d: %d < %d", done, p, prev)
		}
		prev = p
	}
}

// ─── Outline Tests ──────────────────────────────────────────────────────────

func TestOutline_Validate(t *testing.T) {
	o := &Outline{Title: "Q3 Review", Slides: make([]SlidePlan, 5)}
	if err := o.Validate(5); err != nil {
		t.Errorf("Validate(5) error: %v", err)
	}
	if err := o.Validate(6); err == nil {
		t.Error("Validate(6) should reject a 5-slide outline")
	}
}

// ─── Credit Tests ───────────────────────────────────────────────────────────

func TestTransactionKind_AffectsBalance(t *testing.T) {
	affecting := []TransactionKind{TxSettlement, TxPurchase, TxBonus, TxRefund, TxAdjustment}
	for _, k := range affecting {
		if !k.AffectsBalance() {
			t.Errorf("%s.AffectsBalance() = false, want true", k)
		}
	}
	for _, k := range []TransactionKind{TxReservation, TxRelease} {
		if k.AffectsBalance() {
			t.Errorf("%s.AffectsBalance() = true, want false", k)
		}
	}
}

// ─── Stage Error Tests ──────────────────────────────────────────────────────

func TestStageError_Unwrap(t *testing.T) {
	inner := errors.New("model overloaded")
	err := NewStageError("outline", true, inner)
	if !errors.Is(err, inner) {
		t.Error("errors.Is should see through StageError")
	}
	var se *StageError
	if !errors.As(error(err), &se) {
		t.Fatal("errors.As failed")
	}
	if !se.Retryable {
		t.Error("Retryable = false, want true")
	}
}

func TestStageTimeout_Message(t *testing.T) {
	err := NewStageTimeout("content", errors.New("deadline exceeded"))
	if !err.Timeout {
		t.Error("Timeout = false, want true")
	}
	if got := err.Error(); got == "" {
		t.Error("empty error message")
	}
}

func TestPresentationStatusFor(t *testing.T) {
	tests := []struct {
		job  JobStatus
		want PresentationStatus
	}{
		{JobCompleted, PresentationCompleted},
		{JobCancelled, PresentationCancelled},
		{JobFailed, PresentationFailed},
	}
	for _, tt := range tests {
		if got := PresentationStatusFor(tt.job); got != tt.want {
			t.Errorf("PresentationStatusFor(%s) = %s, want %s", tt.job, got, tt.want)
		}
	}
}
