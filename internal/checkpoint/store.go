// Package checkpoint persists conversation state keyed by conversation id.
//
// Every backend offers Transact, a scoped per-key transaction used by the turn
// graph: the state is loaded, handed to a callback and written back only when
// the callback succeeds. Backends either serialize concurrent transactions on
// the same key or reject the loser with domain.ErrConversationBusy.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/chatd/internal/domain"
)

// Store is the durable mapping from conversation id to AgentState.
type Store interface {
	// Load returns the last saved state, or an empty state for unknown ids.
	Load(ctx context.Context, conversationID string) (domain.AgentState, error)

	// Save atomically replaces the stored state.
	Save(ctx context.Context, conversationID string, state domain.AgentState) error

	// Transact loads the state, runs fn on it and saves the result if fn
	// returns nil. Errors returned by fn are passed through unchanged.
	Transact(ctx context.Context, conversationID string, fn func(state *domain.AgentState) error) error

	// Delete removes the stored state. Deleting an unknown id is not an error.
	Delete(ctx context.Context, conversationID string) error

	Ping(ctx context.Context) error
	Close() error
}

// record is the persisted layout. PendingInput is turn scoped and never stored.
type record struct {
	Messages              []domain.Message `json:"messages"`
	TurnsSinceCompression int              `json:"turns_since_compression"`
}

func encode(state domain.AgentState) ([]byte, error) {
	rec := record{
		Messages:              state.Messages,
		TurnsSinceCompression: state.TurnsSinceCompression,
	}
	if rec.Messages == nil {
		rec.Messages = []domain.Message{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

func decode(data []byte) (domain.AgentState, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.AgentState{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	state := domain.NewAgentState()
	if rec.Messages != nil {
		state.Messages = rec.Messages
	}
	state.TurnsSinceCompression = rec.TurnsSinceCompression
	return state, nil
}

// unavailable tags a backend failure so callers can classify it with errors.Is.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrCheckpointUnavailable, op, err)
}
