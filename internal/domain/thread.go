package domain

import (
	"time"
)

// ThreadMode classifies a thread as private or shared. It never changes after creation.
type ThreadMode string

const (
	// ModePersonal threads are readable and writable by their owner only.
	ModePersonal ThreadMode = "personal"
	// ModeCommunity threads are readable and writable by any authenticated user.
	ModeCommunity ThreadMode = "community"
)

// Valid reports whether m is a known mode.
func (m ThreadMode) Valid() bool {
	return m == ModePersonal || m == ModeCommunity
}

// Thread is a conversation container.
//
// Attributes carries any document fields beyond the canonical ones. Threads written by
// older code paths keep their grounding context there under various historical keys.
type Thread struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Title      string         `json:"title"`
	Mode       ThreadMode     `json:"mode"`
	Attributes map[string]any `json:"-"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// IsShared reports whether the thread is a community thread.
func (t *Thread) IsShared() bool {
	return t.Mode == ModeCommunity
}

// CanAccess reports whether userID may read or write the thread.
// Community threads are open to every authenticated user; personal threads only to the owner.
func (t *Thread) CanAccess(userID string) bool {
	if t.IsShared() {
		return true
	}
	return t.UserID == userID
}

// LastMessageAt returns the recency marker used for thread listings.
func (t *Thread) LastMessageAt() time.Time {
	if t.UpdatedAt.IsZero() {
		return t.CreatedAt
	}
	return t.UpdatedAt
}

// ThreadFilter narrows a thread listing. Empty fields are ignored.
type ThreadFilter struct {
	UserID string
	Mode   ThreadMode
	Limit  int
}

// CommunityDoubt is a question raised against a thread for the community to answer.
type CommunityDoubt struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	UserID    string    `json:"userId"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"createdAt"`
}
