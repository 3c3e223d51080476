package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deckforge/deckd/internal/app/ledger"
	"github.com/deckforge/deckd/internal/app/orchestrator"
	"github.com/deckforge/deckd/internal/domain"
	"github.com/deckforge/deckd/internal/infra/observability"
	"github.com/deckforge/deckd/internal/infra/sqlite"
	"github.com/deckforge/deckd/internal/stage"
)

func setupServer(t *testing.T) (*Server, http.Handler, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	led := ledger.New(db)
	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	cfg := orchestrator.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	orch := orchestrator.New(cfg, db, led, stage.NewStatic().Adapters(), tracer)
	srv := NewServer(db, orch, led, tracer)
	return srv, srv.Handler(), db
}

// waitForTerminal polls until the job reaches an end state.
func waitForTerminal(t *testing.T, db *sqlite.DB, jobID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := db.GetJob(jobID)
		if err != nil {
			t.Fatalf("GetJob() error: %v", err)
		}
		if job.Status.Terminal() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", jobID)
}

func doJSON(t *testing.T, h http.Handler, method, path, accountID, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if accountID != "" {
		r.Header.Set("X-Account-ID", accountID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var resp map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s response: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, resp
}

func fundAccount(t *testing.T, h http.Handler, accountID string, amount int64) {
	t.Helper()
	w, _ := doJSON(t, h, http.MethodPost, "/v1/accounts/"+accountID+"/credits", "",
		fmt.Sprintf(`{"amount": %d}`, amount))
	if w.Code != http.StatusOK {
		t.Fatalf("fund account: status %d: %s", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	_, h, _ := setupServer(t)
	w, resp := doJSON(t, h, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v, want ok", resp["status"])
	}
}

func TestGrantCreditsAndBalance(t *testing.T) {
	_, h, _ := setupServer(t)
	fundAccount(t, h, "acct-1", 100)

	w, resp := doJSON(t, h, http.MethodGet, "/v1/accounts/acct-1/balance", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp["balance"] != float64(100) {
		t.Errorf("balance = %v, want 100", resp["balance"])
	}
	if resp["available"] != float64(100) {
		t.Errorf("available = %v, want 100", resp["available"])
	}
}

func TestGrantCreditsRejectsBadKind(t *testing.T) {
	_, h, _ := setupServer(t)
	w, _ := doJSON(t, h, http.MethodPost, "/v1/accounts/acct-1/credits", "",
		`{"amount": 10, "kind": "SETTLEMENT"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitGeneration(t *testing.T) {
	_, h, _ := setupServer(t)
	fundAccount(t, h, "acct-1", 100)

	w, resp := doJSON(t, h, http.MethodPost, "/v1/generations", "acct-1",
		`{"content": "Quarterly Review\nAll the numbers.", "slide_count": 10}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	job := resp["job"].(map[string]interface{})
	if job["status"] != string(domain.JobQueued) {
		t.Errorf("job status = %v, want QUEUED", job["status"])
	}
	if resp["estimated_cost"] != float64(20) {
		t.Errorf("estimated_cost = %v, want 20", resp["estimated_cost"])
	}

	// Status read: queued job comes back without a deck attached.
	w, resp = doJSON(t, h, http.MethodGet, "/v1/generations/"+job["id"].(string), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if _, ok := resp["presentation"]; ok {
		t.Error("queued generation exposes presentation, want job only")
	}
}

func TestSubmitRequiresAccountHeader(t *testing.T) {
	_, h, _ := setupServer(t)
	w, _ := doJSON(t, h, http.MethodPost, "/v1/generations", "",
		`{"content": "x", "slide_count": 2}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitInsufficientCredits(t *testing.T) {
	_, h, _ := setupServer(t)
	fundAccount(t, h, "acct-1", 100)

	w, _ := doJSON(t, h, http.MethodPost, "/v1/generations", "acct-1",
		`{"content": "big deck", "slide_count": 60}`)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402: %s", w.Code, w.Body.String())
	}

	// Nothing persisted.
	w, resp := doJSON(t, h, http.MethodGet, "/admin/jobs", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list jobs: status = %d", w.Code)
	}
	if resp["count"] != float64(0) {
		t.Errorf("jobs = %v, want 0", resp["count"])
	}
}

func TestGetGenerationNotFound(t *testing.T) {
	_, h, _ := setupServer(t)
	w, _ := doJSON(t, h, http.MethodGet, "/v1/generations/missing", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCompletedGenerationIncludesDeck(t *testing.T) {
	srv, h, db := setupServer(t)
	fundAccount(t, h, "acct-1", 100)

	w, resp := doJSON(t, h, http.MethodPost, "/v1/generations", "acct-1",
		`{"content": "AI in Retail\nSource.", "slide_count": 4}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: status = %d", w.Code)
	}
	jobID := resp["job"].(map[string]interface{})["id"].(string)

	// Run the job synchronously through a worker claim.
	srv.orch.Start()
	defer srv.orch.Stop()
	waitForTerminal(t, db, jobID)

	w, resp = doJSON(t, h, http.MethodGet, "/v1/generations/"+jobID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	job := resp["job"].(map[string]interface{})
	if job["status"] != string(domain.JobCompleted) {
		t.Fatalf("job status = %v (%v), want COMPLETED", job["status"], job["error"])
	}
	slides, ok := resp["slides"].([]interface{})
	if !ok || len(slides) != 4 {
		t.Errorf("slides = %v, want 4 entries", resp["slides"])
	}

	// Presentation read endpoint serves the same deck.
	presID := job["presentation_id"].(string)
	w, resp = doJSON(t, h, http.MethodGet, "/v1/presentations/"+presID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("presentation: status = %d", w.Code)
	}
	pres := resp["presentation"].(map[string]interface{})
	if pres["status"] != string(domain.PresentationCompleted) {
		t.Errorf("presentation status = %v, want COMPLETED", pres["status"])
	}
}

func TestAdminCancelAndRetry(t *testing.T) {
	_, h, _ := setupServer(t)
	fundAccount(t, h, "acct-1", 100)

	w, resp := doJSON(t, h, http.MethodPost, "/v1/generations", "acct-1",
		`{"content": "deck", "slide_count": 3}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: status = %d", w.Code)
	}
	jobID := resp["job"].(map[string]interface{})["id"].(string)

	w, resp = doJSON(t, h, http.MethodPost, "/admin/jobs/"+jobID+"/cancel", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: status = %d: %s", w.Code, w.Body.String())
	}
	if resp["status"] != string(domain.JobCancelled) {
		t.Errorf("status = %v, want CANCELLED", resp["status"])
	}

	// Cancelled is not retryable.
	w, _ = doJSON(t, h, http.MethodPost, "/admin/jobs/"+jobID+"/retry", "", "")
	if w.Code != http.StatusConflict {
		t.Errorf("retry cancelled: status = %d, want 409", w.Code)
	}

	// Second cancel conflicts.
	w, _ = doJSON(t, h, http.MethodPost, "/admin/jobs/"+jobID+"/cancel", "", "")
	if w.Code != http.StatusConflict {
		t.Errorf("double cancel: status = %d, want 409", w.Code)
	}
}

func TestAdminQueueAndForceStop(t *testing.T) {
	_, h, _ := setupServer(t)
	fundAccount(t, h, "acct-1", 100)

	for i := 0; i < 2; i++ {
		w, _ := doJSON(t, h, http.MethodPost, "/v1/generations", "acct-1",
			`{"content": "deck", "slide_count": 2}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("submit: status = %d", w.Code)
		}
	}

	w, resp := doJSON(t, h, http.MethodGet, "/admin/queue", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("queue: status = %d", w.Code)
	}
	if resp["queued"] != float64(2) {
		t.Errorf("queued = %v, want 2", resp["queued"])
	}

	w, resp = doJSON(t, h, http.MethodPost, "/admin/force-stop", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("force stop: status = %d", w.Code)
	}
	if resp["stopped"] != float64(2) {
		t.Errorf("stopped = %v, want 2", resp["stopped"])
	}

	w, resp = doJSON(t, h, http.MethodGet, "/admin/queue", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("queue: status = %d", w.Code)
	}
	if resp["queued"] != float64(0) || resp["processing"] != float64(0) {
		t.Errorf("queue after force stop = %v/%v, want 0/0", resp["queued"], resp["processing"])
	}
}

func TestTracesEndpoint(t *testing.T) {
	_, h, _ := setupServer(t)
	w, resp := doJSON(t, h, http.MethodGet, "/admin/traces", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}
