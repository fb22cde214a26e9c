// Package domain contains core domain types for the FinComply application.
package domain

import (
	"strings"
	"time"
)

// User is an account holder. PasswordHash is a bcrypt hash and never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NormalizeEmail returns the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Company status values.
const (
	CompanyListed   = "listed"
	CompanyUnlisted = "unlisted"
)

// Company size values.
const (
	CompanySmall  = "small"
	CompanyMedium = "medium"
	CompanyLarge  = "large"
)

// Profile holds supplementary company metadata for a user. At most one per user.
type Profile struct {
	UserID         string    `json:"userId"`
	CompanyStatus  string    `json:"companyStatus,omitempty"`
	IndustrySector string    `json:"industrySector,omitempty"`
	CompanySize    string    `json:"companySize,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
