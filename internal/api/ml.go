package api

import (
	"net/http"

	"github.com/ashureev/fincomply/internal/identity"
	"github.com/ashureev/fincomply/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

// MLHandler exposes direct question answering and circular ingestion.
type MLHandler struct {
	svc         *orchestrator.Service
	maxBodySize int64
}

// NewMLHandler creates a new ML handler.
func NewMLHandler(svc *orchestrator.Service, maxBodySize int64) *MLHandler {
	return &MLHandler{svc: svc, maxBodySize: maxBodySize}
}

// RegisterRoutes registers the public question route.
func (h *MLHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/ml/question", h.Question)
}

// RegisterAuthenticatedRoutes registers routes that need a signed-in user.
func (h *MLHandler) RegisterAuthenticatedRoutes(r chi.Router) {
	r.Post("/api/ml/context", h.Context)
}

type questionRequest struct {
	Title    string `json:"sebi-title"`
	Summary  string `json:"sebi-summary"`
	Question string `json:"user-question"`
}

type questionResponse struct {
	Title    string `json:"sebi-title"`
	Summary  string `json:"sebi-summary"`
	Question string `json:"user-question"`
	Answer   string `json:"user-answer"`
}

// Question answers a one-off question about a circular.
func (h *MLHandler) Question(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		WriteError(w, r, err, "Failed to answer question")
		return
	}

	result, err := h.svc.AnswerQuestion(r.Context(), req.Title, req.Summary, req.Question)
	if err != nil {
		WriteError(w, r, err, "Failed to answer question")
		return
	}
	JSON(w, http.StatusOK, questionResponse{
		Title:    result.Title,
		Summary:  result.Summary,
		Question: result.Question,
		Answer:   result.Answer,
	})
}

type contextRequest struct {
	Body string `json:"body"`
}

type contextResponse struct {
	Title    string `json:"sebi-title"`
	Summary  string `json:"sebi-summary"`
	Date     string `json:"date,omitempty"`
	ThreadID string `json:"threadId"`
}

// Context summarizes a circular body into a new community thread.
func (h *MLHandler) Context(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		WriteError(w, r, err, "Failed to create context thread")
		return
	}

	result, err := h.svc.CreateThreadFromContext(r.Context(), req.Body, identity.UserIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err, "Failed to create context thread")
		return
	}
	JSON(w, http.StatusCreated, contextResponse{
		Title:    result.Title,
		Summary:  result.Summary,
		Date:     result.Date,
		ThreadID: result.ThreadID,
	})
}
