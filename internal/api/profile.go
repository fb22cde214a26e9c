package api

import (
	"net/http"

	"github.com/ashureev/fincomply/internal/account"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/identity"
	"github.com/go-chi/chi/v5"
)

// ProfileHandler serves the signed-in user's company profile.
type ProfileHandler struct {
	accounts    *account.Service
	maxBodySize int64
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(accounts *account.Service, maxBodySize int64) *ProfileHandler {
	return &ProfileHandler{accounts: accounts, maxBodySize: maxBodySize}
}

// RegisterRoutes registers profile routes. Callers mount it behind RequireUser.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/user/profile", h.Get)
	r.Put("/api/user/profile", h.Update)
}

type profileResponse struct {
	User    userView        `json:"user"`
	Profile *domain.Profile `json:"profile"`
}

// Get returns the user and profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.accounts.Profile(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err, "Failed to fetch profile")
		return
	}
	JSON(w, http.StatusOK, profileResponse{User: newUserView(view.User), Profile: view.Profile})
}

// Update replaces the user name and company profile.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in account.ProfileInput
	if err := decodeJSON(w, r, h.maxBodySize, &in); err != nil {
		WriteError(w, r, err, "Failed to update profile")
		return
	}

	view, err := h.accounts.UpdateProfile(r.Context(), identity.UserIDFromContext(r.Context()), in)
	if err != nil {
		WriteError(w, r, err, "Failed to update profile")
		return
	}
	JSON(w, http.StatusOK, profileResponse{User: newUserView(view.User), Profile: view.Profile})
}
