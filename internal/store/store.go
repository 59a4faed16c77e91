// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/chatd/internal/domain"
)

// Repository persists users, chat sessions and transcripts.
//
// Conversation state itself lives in a checkpoint.Store; this repository only
// tracks ownership and the audit transcript.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateChatSession registers a conversation for a user.
	CreateChatSession(ctx context.Context, session *domain.ChatSession) error

	// GetChatSession retrieves a session by conversation ID. Returns nil, nil if absent.
	GetChatSession(ctx context.Context, conversationID string) (*domain.ChatSession, error)

	// TouchChatSession bumps updated_at for a conversation. Returns
	// domain.ErrUnknownConversation if the session no longer exists.
	TouchChatSession(ctx context.Context, conversationID string, at time.Time) error

	// ListChatSessions returns a user's sessions, newest first.
	ListChatSessions(ctx context.Context, userID string, page domain.Page) ([]*domain.ChatSession, error)

	// ListIdleChatSessions returns sessions not updated within ttl.
	ListIdleChatSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error)

	// DeleteChatSession removes a session and its transcript.
	// Returns false if no session existed.
	DeleteChatSession(ctx context.Context, conversationID string) (bool, error)

	// AppendTranscript appends one entry to a conversation transcript.
	AppendTranscript(ctx context.Context, entry *domain.TranscriptEntry) error

	// ListTranscript returns a conversation transcript, oldest first.
	ListTranscript(ctx context.Context, conversationID string, page domain.Page) ([]*domain.TranscriptEntry, error)
}
