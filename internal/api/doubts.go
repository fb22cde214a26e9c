package api

import (
	"net/http"

	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/identity"
	"github.com/ashureev/fincomply/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

// DoubtHandler serves community doubts.
type DoubtHandler struct {
	svc         *orchestrator.Service
	maxBodySize int64
}

// NewDoubtHandler creates a new doubt handler.
func NewDoubtHandler(svc *orchestrator.Service, maxBodySize int64) *DoubtHandler {
	return &DoubtHandler{svc: svc, maxBodySize: maxBodySize}
}

// RegisterRoutes registers doubt routes. Callers mount it behind RequireUser.
func (h *DoubtHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/community-doubts", h.List)
	r.Post("/api/community-doubts", h.Create)
}

// List returns recent doubts, optionally filtered by ?threadId=.
func (h *DoubtHandler) List(w http.ResponseWriter, r *http.Request) {
	doubts, err := h.svc.ListDoubts(r.Context(), r.URL.Query().Get("threadId"))
	if err != nil {
		WriteError(w, r, err, "Failed to fetch community doubts")
		return
	}
	if doubts == nil {
		doubts = []*domain.CommunityDoubt{}
	}
	JSON(w, http.StatusOK, map[string]any{"communityDoubts": doubts})
}

type createDoubtRequest struct {
	ThreadID string `json:"threadId"`
	Question string `json:"question"`
}

// Create records a doubt against a thread.
func (h *DoubtHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDoubtRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		WriteError(w, r, err, "Failed to create community doubt")
		return
	}

	doubt, err := h.svc.RaiseDoubt(r.Context(), req.ThreadID, identity.UserIDFromContext(r.Context()), req.Question)
	if err != nil {
		WriteError(w, r, err, "Failed to create community doubt")
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"communityDoubt": doubt})
}
