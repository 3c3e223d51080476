// Public generation and credit endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/deckforge/deckd/internal/domain"
)

// submitRequest is the body of POST /v1/generations.
type submitRequest struct {
	Content    string `json:"content"`
	SlideCount int    `json:"slide_count"`
	Language   string `json:"language,omitempty"`
	Style      string `json:"style,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
}

// generationResponse is the job view returned by submit and status reads.
// The presentation and its slides are attached only once the deck exists.
type generationResponse struct {
	Job           *domain.GenerationJob `json:"job"`
	EstimatedCost int64                 `json:"estimated_cost,omitempty"`
	Presentation  *domain.Presentation  `json:"presentation,omitempty"`
	Slides        []domain.Slide        `json:"slides,omitempty"`
}

func (s *Server) handleSubmitGeneration(w http.ResponseWriter, r *http.Request) {
	accountID := r.Header.Get("X-Account-ID")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "X-Account-ID header is required")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	job, err := s.orch.Submit(accountID, domain.GenerationInput{
		Content:    req.Content,
		SlideCount: req.SlideCount,
		Language:   req.Language,
		Style:      req.Style,
		TemplateID: req.TemplateID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, generationResponse{
		Job:           job,
		EstimatedCost: s.orch.EstimateCost(req.SlideCount),
	})
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	job, err := s.db.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := generationResponse{Job: job}
	if job.Status == domain.JobCompleted {
		pres, err := s.db.GetPresentation(job.PresentationID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		slides, err := s.db.ListSlides(job.PresentationID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp.Presentation = pres
		resp.Slides = slides
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPresentation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pres, err := s.db.GetPresentation(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	slides, err := s.db.ListSlides(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"presentation": pres,
		"slides":       slides,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ledger.Balance(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := s.ledger.Transactions(chi.URLParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// grantRequest is the body of POST /v1/accounts/{id}/credits.
type grantRequest struct {
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind,omitempty"` // PURCHASE (default), BONUS, REFUND, ADJUSTMENT
	Description string `json:"description,omitempty"`
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	kind := domain.TransactionKind(req.Kind)
	if kind == "" {
		kind = domain.TxPurchase
	}
	switch kind {
	case domain.TxPurchase, domain.TxBonus, domain.TxRefund, domain.TxAdjustment:
	default:
		writeError(w, http.StatusBadRequest, "invalid credit kind: "+req.Kind)
		return
	}

	if err := s.ledger.EnsureAccount(accountID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.ledger.Credit(accountID, req.Amount, kind, req.Description); err != nil {
		writeDomainError(w, err)
		return
	}
	sum, err := s.ledger.Balance(accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
