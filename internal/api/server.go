// Package api provides the HTTP server for deckd: the public generation
// and credit endpoints plus the operator admin surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deckforge/deckd/internal/app/ledger"
	"github.com/deckforge/deckd/internal/app/orchestrator"
	"github.com/deckforge/deckd/internal/domain"
	"github.com/deckforge/deckd/internal/infra/observability"
	"github.com/deckforge/deckd/internal/infra/sqlite"
)

// Version is stamped at build time.
var Version = "0.1.0"

// Server is the deckd HTTP API server.
type Server struct {
	db             *sqlite.DB
	orch           *orchestrator.Orchestrator
	ledger         *ledger.Service
	tracer         *observability.Tracer
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(db *sqlite.DB, orch *orchestrator.Orchestrator, led *ledger.Service, tracer *observability.Tracer) *Server {
	return &Server{db: db, orch: orch, ledger: led, tracer: tracer}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)

	// Health check for container orchestrators
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": Version,
		})
	})

	// Public API
	r.Route("/v1", func(r chi.Router) {
		r.Post("/generations", s.handleSubmitGeneration)
		r.Get("/generations/{id}", s.handleGetGeneration)
		r.Get("/presentations/{id}", s.handleGetPresentation)

		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/transactions", s.handleTransactions)
			r.Post("/credits", s.handleGrantCredits)
		})
	})

	// Operator surface
	r.Route("/admin", func(r chi.Router) {
		r.Get("/queue", s.handleQueueStatus)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/traces", s.handleTraces)
		r.Post("/jobs/{id}/retry", s.handleRetryJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Post("/force-stop", s.handleForceStop)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrPresentationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrJobTerminal),
		errors.Is(err, domain.ErrNotRetryable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Account-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
