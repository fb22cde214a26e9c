package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Authorizer checks that a user may read a thread.
type Authorizer interface {
	Authorize(ctx context.Context, threadID, requesterID string) (*domain.Thread, error)
}

// Handler upgrades thread feed requests to WebSocket connections.
type Handler struct {
	hub            *Hub
	auth           Authorizer
	allowedOrigins []string
}

// NewHandler creates a feed handler.
func NewHandler(hub *Hub, auth Authorizer, allowedOrigins []string) *Handler {
	return &Handler{hub: hub, auth: auth, allowedOrigins: allowedOrigins}
}

// RegisterRoutes registers the feed route. Callers mount it behind RequireUser.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/threads/{threadId}", h.ServeHTTP)
}

type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP authorizes the request and streams thread events until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	threadID := chi.URLParam(r, "threadId")

	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	if _, err := h.auth.Authorize(r.Context(), threadID, userID); err != nil {
		e, ok := apperr.As(err)
		if !ok || e.Kind == apperr.KindInternal {
			slog.Error("Feed authorization failed", "thread_id", threadID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to open thread feed")
			return
		}
		writeError(w, e.Status(), e.Message)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	sub := h.hub.Subscribe(threadID)
	if sub == nil {
		return
	}
	defer h.hub.Unsubscribe(sub)
	slog.Info("Thread feed opened", "thread_id", threadID, "user_id", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		h.readLoop(ctx, ws, userID)
	}()
	defer func() {
		cancel()
		<-readDone
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Thread feed closed", "thread_id", threadID, "user_id", userID)
			return
		case data, ok := <-sub.C():
			if !ok {
				return
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Debug("Feed write failed", "thread_id", threadID, "error", err)
				return
			}
		}
	}
}

// readLoop answers pings and returns when the client goes away.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Debug("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
