// Package api provides HTTP handlers for the FinComply API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/fincomply/internal/apperr"
)

// defaultMaxBodySize caps request bodies when no limit is configured.
const defaultMaxBodySize int64 = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// WriteError maps a service error to its HTTP status. Unclassified and
// internal errors are logged and answered with fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		slog.Error(fallback, "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, fallback)
		return
	}
	if e.Kind == apperr.KindUpstreamContract || e.Kind == apperr.KindUpstreamUnavailable {
		slog.Warn("Upstream failure", "path", r.URL.Path, "error", err)
	}
	Error(w, e.Status(), e.Message)
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.InvalidRequest("Request body too large")
		}
		return apperr.InvalidRequest("Invalid request body")
	}
	return nil
}
