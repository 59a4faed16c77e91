package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/chatd/internal/domain"
	"github.com/ashureev/chatd/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// OpenSQLite opens (and creates if needed) a SQLite database with WAL mode,
// a busy timeout and foreign keys enabled on every connection.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// NewSQLite creates a new SQLite-backed repository at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteFromDB wraps an already opened database and ensures the schema.
func NewSQLiteFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so other stores can share the database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		conversation_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS chat_transcripts (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES chat_sessions(conversation_id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_transcripts_conversation ON chat_transcripts(conversation_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.UnixMilli(lastSeen)
	user.CreatedAt = time.UnixMilli(createdAt)
	user.UpdatedAt = time.UnixMilli(updatedAt)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.UnixMilli(),
		user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.UnixMilli(), time.Now().UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// CreateChatSession registers a conversation for a user.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, session *domain.ChatSession) error {
	query := `
		INSERT INTO chat_sessions (conversation_id, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)`

	return shared.RetryOnSQLiteConflict(ctx, "create chat session", 3, 50*time.Millisecond, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			session.ConversationID, session.UserID,
			session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("create chat session: %w", err)
		}
		return nil
	})
}

// GetChatSession retrieves a session by conversation ID.
func (s *SQLiteStore) GetChatSession(ctx context.Context, conversationID string) (*domain.ChatSession, error) {
	query := `
		SELECT conversation_id, user_id, created_at, updated_at
		FROM chat_sessions WHERE conversation_id = ?`

	session, err := scanChatSession(s.db.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}
	return session, nil
}

// TouchChatSession bumps updated_at for a conversation. It returns
// domain.ErrUnknownConversation when the session row is gone.
func (s *SQLiteStore) TouchChatSession(ctx context.Context, conversationID string, at time.Time) error {
	query := `UPDATE chat_sessions SET updated_at = ? WHERE conversation_id = ?`
	var rows int64
	err := shared.RetryOnSQLiteConflict(ctx, "touch chat session", 3, 50*time.Millisecond, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, query, at.UnixMilli(), conversationID)
		if err != nil {
			return fmt.Errorf("touch chat session: %w", err)
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("touch chat session %s: %w", conversationID, domain.ErrUnknownConversation)
	}
	return nil
}

// ListChatSessions returns a user's sessions, newest first.
func (s *SQLiteStore) ListChatSessions(ctx context.Context, userID string, page domain.Page) ([]*domain.ChatSession, error) {
	query := `
		SELECT conversation_id, user_id, created_at, updated_at
		FROM chat_sessions WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	return s.querySessions(ctx, query, userID, page.Size, page.Offset())
}

// ListIdleChatSessions returns sessions not updated within ttl.
func (s *SQLiteStore) ListIdleChatSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	query := `
		SELECT conversation_id, user_id, created_at, updated_at
		FROM chat_sessions WHERE updated_at < ?
		ORDER BY updated_at ASC`

	return s.querySessions(ctx, query, threshold)
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat session rows", "error", closeErr)
		}
	}()

	sessions := []*domain.ChatSession{}
	for rows.Next() {
		session, err := scanChatSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatSession(row rowScanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var createdAt, updatedAt int64
	if err := row.Scan(&session.ConversationID, &session.UserID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	session.CreatedAt = time.UnixMilli(createdAt)
	session.UpdatedAt = time.UnixMilli(updatedAt)
	return &session, nil
}

// DeleteChatSession removes a session; its transcript goes with it through
// the foreign key cascade.
func (s *SQLiteStore) DeleteChatSession(ctx context.Context, conversationID string) (bool, error) {
	var deleted bool
	err := shared.RetryOnSQLiteConflict(ctx, "delete chat session", 3, 100*time.Millisecond, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE conversation_id = ?`, conversationID)
		if err != nil {
			return fmt.Errorf("delete chat session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		deleted = rows > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if !deleted {
		slog.Info("No chat session found to delete", "conversation_id", conversationID)
	}
	return deleted, nil
}

// AppendTranscript appends one entry to a conversation transcript.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, entry *domain.TranscriptEntry) error {
	query := `
		INSERT INTO chat_transcripts (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`

	return shared.RetryOnSQLiteConflict(ctx, "append transcript", 3, 50*time.Millisecond, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			entry.ID, entry.ConversationID, string(entry.Role), entry.Content, entry.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("append transcript: %w", err)
		}
		return nil
	})
}

// ListTranscript returns a conversation transcript, oldest first.
func (s *SQLiteStore) ListTranscript(ctx context.Context, conversationID string, page domain.Page) ([]*domain.TranscriptEntry, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM chat_transcripts WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, conversationID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	entries := []*domain.TranscriptEntry{}
	for rows.Next() {
		var entry domain.TranscriptEntry
		var role string
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.ConversationID, &role, &entry.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		entry.Role = domain.Role(role)
		entry.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return entries, nil
}
