// Package domain contains core domain types for the chat service.
package domain

import (
	"time"
)

// User represents an anonymous per-device user that owns chat sessions.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor returns how long the user has been inactive as of now.
// Returns 0 if the user was seen in the future (clock skew).
func (u *User) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(u.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
