package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/chatd/internal/domain"
	"github.com/ashureev/chatd/internal/shared"
)

// SQLiteStore stores checkpoints in a SQLite table. Each row carries a
// version stamp; Transact writes back with a compare-and-swap on it and
// reports domain.ErrConversationBusy when another writer got there first.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates the checkpoint table on db if needed. The handle is
// shared with the session repository and is not closed by Close.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		conversation_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, unavailable("create checkpoint table", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, conversationID string) (domain.AgentState, error) {
	state, _, err := s.read(ctx, conversationID)
	return state, err
}

// read returns the state and its version; version 0 means no row exists.
func (s *SQLiteStore) read(ctx context.Context, conversationID string) (domain.AgentState, int64, error) {
	var data string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT state, version FROM checkpoints WHERE conversation_id = ?`, conversationID,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewAgentState(), 0, nil
	}
	if err != nil {
		return domain.AgentState{}, 0, unavailable("load checkpoint", err)
	}
	state, err := decode([]byte(data))
	if err != nil {
		return domain.AgentState{}, 0, unavailable("load checkpoint", err)
	}
	return state, version, nil
}

func (s *SQLiteStore) Save(ctx context.Context, conversationID string, state domain.AgentState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO checkpoints (conversation_id, state, version, updated_at)
	VALUES (?, ?, 1, ?)
	ON CONFLICT(conversation_id) DO UPDATE SET
		state = excluded.state,
		version = checkpoints.version + 1,
		updated_at = excluded.updated_at`

	err = shared.RetryOnSQLiteConflict(ctx, "save checkpoint", 3, 50*time.Millisecond, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, conversationID, string(data), time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return unavailable("save checkpoint", err)
	}
	return nil
}

func (s *SQLiteStore) Transact(ctx context.Context, conversationID string, fn func(*domain.AgentState) error) error {
	state, version, err := s.read(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := fn(&state); err != nil {
		return err
	}
	data, err := encode(state)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	var result sql.Result
	if version == 0 {
		result, err = s.db.ExecContext(ctx, `
			INSERT INTO checkpoints (conversation_id, state, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(conversation_id) DO NOTHING`,
			conversationID, string(data), now)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE checkpoints SET state = ?, version = version + 1, updated_at = ?
			WHERE conversation_id = ? AND version = ?`,
			string(data), now, conversationID, version)
	}
	if err != nil {
		if shared.IsSQLiteConflictError(err) {
			return fmt.Errorf("save checkpoint %s: %w", conversationID, domain.ErrConversationBusy)
		}
		return unavailable("save checkpoint", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("save checkpoint", err)
	}
	if rows == 0 {
		return fmt.Errorf("save checkpoint %s: %w", conversationID, domain.ErrConversationBusy)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, conversationID string) error {
	err := shared.RetryOnSQLiteConflict(ctx, "delete checkpoint", 3, 50*time.Millisecond, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE conversation_id = ?`, conversationID)
		return err
	})
	if err != nil {
		return unavailable("delete checkpoint", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close is a no-op; the shared database is closed by its owner.
func (s *SQLiteStore) Close() error { return nil }
