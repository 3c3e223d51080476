// Operator endpoints: queue inspection, retry/cancel, force stop, traces.
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/deckforge/deckd/internal/domain"
)

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.QueueStatus()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	jobs, err := s.db.ListJobs(status, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Retry(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleForceStop(w http.ResponseWriter, r *http.Request) {
	stopped, err := s.orch.ForceStopActive()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stopped": stopped})
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	spans := s.tracer.Spans(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans": spans,
		"count": len(spans),
	})
}
