package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/identity"
	"github.com/ashureev/fincomply/internal/orchestrator"
	"github.com/ashureev/fincomply/internal/rag"
	"github.com/go-chi/chi/v5"
)

// MessageHandler accepts user messages and returns the AI answer.
type MessageHandler struct {
	svc         *orchestrator.Service
	limit       func(http.Handler) http.Handler
	maxBodySize int64
}

// NewMessageHandler creates a new message handler. limit wraps both
// submission routes; pass nil to disable throttling.
func NewMessageHandler(svc *orchestrator.Service, limit func(http.Handler) http.Handler, maxBodySize int64) *MessageHandler {
	return &MessageHandler{svc: svc, limit: limit, maxBodySize: maxBodySize}
}

// RegisterRoutes registers message routes. Callers mount it behind RequireUser.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Post("/api/messages", h.Post)
		r.Post("/api/chat", h.Chat)
	})
}

type postMessageRequest struct {
	ThreadID string `json:"threadId"`
	Content  string `json:"content"`
}

// Post stores a message and its answer and returns both.
func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		WriteError(w, r, err, "Failed to process message")
		return
	}

	result, err := h.svc.Submit(r.Context(), req.ThreadID, identity.UserIDFromContext(r.Context()), req.Content)
	if err != nil {
		WriteError(w, r, err, "Failed to process message")
		return
	}
	JSON(w, http.StatusCreated, map[string]any{
		"userMessage": result.UserMessage,
		"aiMessage":   result.AIMessage,
	})
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId"`
}

type chatResponse struct {
	Success   bool         `json:"success"`
	Response  string       `json:"response,omitempty"`
	Citations []rag.Source `json:"citations"`
	Timestamp int64        `json:"timestamp,omitempty"`
	MessageID string       `json:"messageId,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Chat is the chat widget variant of Post. It returns the raw answer sources.
func (h *MessageHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		h.chatError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" || req.ThreadID == "" {
		h.chatError(w, r, apperr.InvalidRequest("Message and threadId are required"))
		return
	}

	result, err := h.svc.Submit(r.Context(), req.ThreadID, identity.UserIDFromContext(r.Context()), req.Message)
	if err != nil {
		h.chatError(w, r, err)
		return
	}

	sources := result.Answer.Sources
	if sources == nil {
		sources = []rag.Source{}
	}
	JSON(w, http.StatusOK, chatResponse{
		Success:   true,
		Response:  result.AIMessage.Content,
		Citations: sources,
		Timestamp: result.AIMessage.CreatedAt.UnixMilli(),
		MessageID: result.AIMessage.ID,
	})
}

func (h *MessageHandler) chatError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		slog.Error("Chat request failed", "error", err)
		JSON(w, http.StatusInternalServerError, chatResponse{
			Error:     "Failed to process message",
			Response:  "An error occurred while processing your message.",
			Citations: []rag.Source{},
		})
		return
	}
	if e.Kind == apperr.KindUpstreamContract || e.Kind == apperr.KindUpstreamUnavailable {
		slog.Warn("Upstream failure", "path", r.URL.Path, "error", err)
	}
	JSON(w, e.Status(), chatResponse{Error: e.Message, Citations: []rag.Source{}})
}
