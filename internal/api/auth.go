package api

import (
	"net/http"

	"github.com/ashureev/fincomply/internal/account"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/identity"
	"github.com/go-chi/chi/v5"
)

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func newUserView(u *domain.User) userView {
	return userView{ID: u.ID, Email: u.Email, Name: u.Name}
}

// AuthHandler handles sign-up, sign-in and session endpoints.
type AuthHandler struct {
	accounts    *account.Service
	tokens      *identity.Tokens
	maxBodySize int64
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(accounts *account.Service, tokens *identity.Tokens, maxBodySize int64) *AuthHandler {
	return &AuthHandler{accounts: accounts, tokens: tokens, maxBodySize: maxBodySize}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth/signup", h.Signup)
	r.Post("/api/auth/login", h.Login)
	r.Get("/api/auth/session", h.Session)
	r.With(identity.RequireUser).Post("/api/auth/logout", h.Logout)
}

// Signup creates an account and starts a session.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var in account.SignupInput
	if err := decodeJSON(w, r, h.maxBodySize, &in); err != nil {
		WriteError(w, r, err, "Failed to create user")
		return
	}

	user, err := h.accounts.Signup(r.Context(), in)
	if err != nil {
		WriteError(w, r, err, "Failed to create user")
		return
	}
	if !h.startSession(w, r, user) {
		return
	}

	JSON(w, http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"user":    newUserView(user),
	})
}

// Login verifies credentials and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in account.LoginInput
	if err := decodeJSON(w, r, h.maxBodySize, &in); err != nil {
		WriteError(w, r, err, "Failed to sign in")
		return
	}

	user, err := h.accounts.Login(r.Context(), in)
	if err != nil {
		WriteError(w, r, err, "Failed to sign in")
		return
	}
	if !h.startSession(w, r, user) {
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    newUserView(user),
	})
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.tokens.ClearCookie(w)
	JSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Session reports whether the request carries a valid session.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		JSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user": userView{
			ID:    userID,
			Email: identity.EmailFromContext(r.Context()),
		},
	})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *domain.User) bool {
	token, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		WriteError(w, r, err, "Failed to create session")
		return false
	}
	h.tokens.SetCookie(w, token)
	return true
}
