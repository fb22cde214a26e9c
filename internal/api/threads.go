package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/identity"
	"github.com/ashureev/fincomply/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

type threadSummary struct {
	ThreadID      string            `json:"threadId"`
	Title         string            `json:"title"`
	LastMessageAt time.Time         `json:"lastMessageAt"`
	Mode          domain.ThreadMode `json:"mode"`
}

func newThreadSummary(t *domain.Thread) threadSummary {
	return threadSummary{ThreadID: t.ID, Title: t.Title, LastMessageAt: t.UpdatedAt, Mode: t.Mode}
}

func newThreadSummaries(threads []*domain.Thread) []threadSummary {
	out := make([]threadSummary, 0, len(threads))
	for _, t := range threads {
		out = append(out, newThreadSummary(t))
	}
	return out
}

// ThreadHandler serves thread listing, creation and history.
type ThreadHandler struct {
	svc         *orchestrator.Service
	seed        bool
	maxBodySize int64
}

// NewThreadHandler creates a new thread handler. When seed is set, listing
// community threads creates the demo threads if there are none.
func NewThreadHandler(svc *orchestrator.Service, seed bool, maxBodySize int64) *ThreadHandler {
	return &ThreadHandler{svc: svc, seed: seed, maxBodySize: maxBodySize}
}

// RegisterRoutes registers thread routes. Callers mount it behind RequireUser.
func (h *ThreadHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/threads", h.List)
	r.Post("/api/threads", h.Create)
	r.Get("/api/threads/{threadId}", h.Get)
	r.Get("/api/threads/{threadId}/messages", h.Messages)

	r.Get("/api/personal-threads", h.listMode(domain.ModePersonal))
	r.Post("/api/personal-threads", h.createMode(domain.ModePersonal))
	r.Get("/api/community-threads", h.listMode(domain.ModeCommunity))
	r.Post("/api/community-threads", h.createMode(domain.ModeCommunity))
}

type createThreadRequest struct {
	Title string            `json:"title"`
	Mode  domain.ThreadMode `json:"mode"`
}

// List returns the requester's visible threads for ?mode=.
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, domain.ThreadMode(r.URL.Query().Get("mode")))
}

// Create opens a thread with the requested mode.
func (h *ThreadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		WriteError(w, r, err, "Failed to create thread")
		return
	}
	h.create(w, r, req.Title, req.Mode)
}

func (h *ThreadHandler) listMode(mode domain.ThreadMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.list(w, r, mode)
	}
}

func (h *ThreadHandler) createMode(mode domain.ThreadMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createThreadRequest
		if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
			WriteError(w, r, err, "Failed to create thread")
			return
		}
		h.create(w, r, req.Title, mode)
	}
}

func (h *ThreadHandler) list(w http.ResponseWriter, r *http.Request, mode domain.ThreadMode) {
	userID := identity.UserIDFromContext(r.Context())

	if mode == domain.ModeCommunity && h.seed {
		if _, err := h.svc.SeedCommunityThreads(r.Context(), userID); err != nil {
			slog.Warn("Failed to seed community threads", "user_id", userID, "error", err)
		}
	}

	threads, err := h.svc.ListThreads(r.Context(), userID, mode)
	if err != nil {
		WriteError(w, r, err, "Failed to fetch threads")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"threads": newThreadSummaries(threads)})
}

func (h *ThreadHandler) create(w http.ResponseWriter, r *http.Request, title string, mode domain.ThreadMode) {
	thread, err := h.svc.CreateThread(r.Context(), identity.UserIDFromContext(r.Context()), title, mode)
	if err != nil {
		WriteError(w, r, err, "Failed to create thread")
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"thread": newThreadSummary(thread)})
}

// Get returns a thread with its messages.
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	thread, messages, err := h.svc.ThreadMessages(r.Context(), chi.URLParam(r, "threadId"), identity.UserIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err, "Failed to fetch thread")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"thread":   newThreadSummary(thread),
		"messages": nonNilMessages(messages),
	})
}

// Messages returns a thread's messages oldest first.
func (h *ThreadHandler) Messages(w http.ResponseWriter, r *http.Request) {
	_, messages, err := h.svc.ThreadMessages(r.Context(), chi.URLParam(r, "threadId"), identity.UserIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err, "Failed to fetch messages")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"messages": nonNilMessages(messages)})
}

func nonNilMessages(messages []*domain.Message) []*domain.Message {
	if messages == nil {
		return []*domain.Message{}
	}
	return messages
}
