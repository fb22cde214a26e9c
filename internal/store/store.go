// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/fincomply/internal/domain"
)

var (
	// ErrDuplicate is returned when a unique key (user email) already exists.
	ErrDuplicate = errors.New("duplicate key")
	// ErrInvalidID is returned when an identifier is not a valid key for the backend.
	ErrInvalidID = errors.New("invalid id")
	// ErrNotFound is returned by updates that match no record.
	ErrNotFound = errors.New("not found")
)

// Default listing limits.
const (
	DefaultThreadLimit  = 50
	DefaultMessageLimit = 200
	DefaultDoubtLimit   = 50
)

// Repository defines the interface for persisting accounts, threads and messages.
// Lookups return (nil, nil) when the record does not exist.
type Repository interface {
	// EnsureConnected establishes the connection and schema. Safe to call repeatedly.
	EnsureConnected(ctx context.Context) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// ValidID reports whether id is a well-formed key for this backend.
	ValidID(id string) bool

	// CreateUser inserts a user and assigns its ID. Returns ErrDuplicate if the email is taken.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByEmail retrieves a user by normalized email.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdateUserName sets the display name of a user.
	UpdateUserName(ctx context.Context, userID, name string) error

	// GetProfile retrieves the profile of a user.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// UpsertProfile creates or updates the profile keyed by profile.UserID.
	UpsertProfile(ctx context.Context, profile *domain.Profile) error

	// InsertThread inserts a thread and assigns its ID.
	InsertThread(ctx context.Context, thread *domain.Thread) error

	// FindThread retrieves a thread, including legacy attributes.
	FindThread(ctx context.Context, threadID string) (*domain.Thread, error)

	// ListThreads returns threads matching filter ordered by updated_at descending.
	ListThreads(ctx context.Context, filter domain.ThreadFilter) ([]*domain.Thread, error)

	// TouchThread sets the thread's updated_at.
	TouchThread(ctx context.Context, threadID string, at time.Time) error

	// InsertMessage inserts a message and assigns its ID.
	InsertMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns the thread's messages in insertion order.
	ListMessages(ctx context.Context, threadID string, limit int) ([]*domain.Message, error)

	// InsertDoubt inserts a community doubt and assigns its ID.
	InsertDoubt(ctx context.Context, doubt *domain.CommunityDoubt) error

	// ListDoubts returns doubts newest first, optionally restricted to one thread.
	ListDoubts(ctx context.Context, threadID string, limit int) ([]*domain.CommunityDoubt, error)
}

func limitOrDefault(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
