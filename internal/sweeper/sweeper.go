// Package sweeper purges conversations that have been idle past their TTL.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/chatd/internal/domain"
	"github.com/ashureev/chatd/internal/shared"
)

// IdleLister finds conversations not updated within ttl.
type IdleLister interface {
	ListIdleChatSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error)
}

// Purger removes every trace of a conversation.
type Purger interface {
	Purge(ctx context.Context, conversationID string) error
}

// CleanupCallback is called after a conversation has been purged.
type CleanupCallback func(session *domain.ChatSession)

// Sweeper periodically purges idle conversations.
type Sweeper struct {
	sessions  IdleLister
	purger    Purger
	ttl       time.Duration
	interval  time.Duration
	onCleanup CleanupCallback
	logger    *slog.Logger
}

// New creates a Sweeper. onCleanup may be nil.
func New(sessions IdleLister, purger Purger, ttl, interval time.Duration, onCleanup CleanupCallback, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sessions:  sessions,
		purger:    purger,
		ttl:       ttl,
		interval:  interval,
		onCleanup: onCleanup,
		logger:    logger,
	}
}

// Run sweeps every interval until ctx is done. It always returns nil so it can
// run inside an errgroup alongside the servers.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("Sweeper started", "interval", s.interval, "ttl", s.ttl)

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("Sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// SweepOnce purges every idle conversation once and returns how many were
// removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	idle, err := s.sessions.ListIdleChatSessions(ctx, s.ttl)
	if err != nil {
		s.logger.Error("Sweeper failed to list idle sessions", "error", err)
		return 0
	}
	if len(idle) == 0 {
		return 0
	}

	s.logger.Info("Sweeper found idle sessions", "count", len(idle))

	purged := 0
	for _, session := range idle {
		if ctx.Err() != nil {
			s.logger.Debug("Sweeper interrupted, cleanup may be incomplete", "error", ctx.Err())
			break
		}

		err := shared.RetryOnSQLiteConflict(ctx, "purge conversation", 3, 100*time.Millisecond, func(ctx context.Context) error {
			return s.purger.Purge(ctx, session.ConversationID)
		})
		if err != nil && !errors.Is(err, domain.ErrUnknownConversation) {
			s.logger.Warn("Sweeper failed to purge conversation",
				"error", err,
				"conversation_id", session.ConversationID,
				"user_id", session.UserID)
			continue
		}

		purged++
		if s.onCleanup != nil {
			s.onCleanup(session)
		}
		s.logger.Info("Sweeper purged conversation",
			"conversation_id", session.ConversationID,
			"user_id", session.UserID,
			"idle_since", session.UpdatedAt)
	}
	return purged
}
