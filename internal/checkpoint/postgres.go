package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/chatd/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore stores checkpoints in PostgreSQL. Transact holds a row lock
// (SELECT ... FOR UPDATE) for the whole turn, so same-id turns serialize.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL and ensures the checkpoint table.
func NewPostgresStore(ctx context.Context, databaseURL, schema string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, unavailable("connect postgres", err)
	}
	s := NewPostgresStoreFromPool(pool, schema)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool without touching the schema.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, schema string) *PostgresStore {
	if schema == "" {
		schema = "public"
	}
	return &PostgresStore{pool: pool, schema: schema}
}

// tableName returns the fully qualified table name.
func (s *PostgresStore) tableName() string {
	return pgx.Identifier{s.schema, "checkpoints"}.Sanitize()
}

// EnsureSchema creates the schema and checkpoint table if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{s.schema}.Sanitize()),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			conversation_id TEXT PRIMARY KEY,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.tableName()),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return unavailable("create checkpoint table", err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, conversationID string) (domain.AgentState, error) {
	query := fmt.Sprintf(`SELECT state FROM %s WHERE conversation_id = $1`, s.tableName())
	var data []byte
	err := s.pool.QueryRow(ctx, query, conversationID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewAgentState(), nil
	}
	if err != nil {
		return domain.AgentState{}, unavailable("load checkpoint", err)
	}
	state, err := decode(data)
	if err != nil {
		return domain.AgentState{}, unavailable("load checkpoint", err)
	}
	return state, nil
}

func (s *PostgresStore) Save(ctx context.Context, conversationID string, state domain.AgentState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, s.upsertQuery(), conversationID, data); err != nil {
		return unavailable("save checkpoint", err)
	}
	return nil
}

func (s *PostgresStore) upsertQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (conversation_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (conversation_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`, s.tableName())
}

func (s *PostgresStore) Transact(ctx context.Context, conversationID string, fn func(*domain.AgentState) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Make sure a row exists so the first turn of a conversation is locked too.
	seed := fmt.Sprintf(`
		INSERT INTO %s (conversation_id, state) VALUES ($1, $2)
		ON CONFLICT (conversation_id) DO NOTHING`, s.tableName())
	empty, err := encode(domain.NewAgentState())
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, seed, conversationID, empty); err != nil {
		return unavailable("seed checkpoint", err)
	}

	var data []byte
	lock := fmt.Sprintf(`SELECT state FROM %s WHERE conversation_id = $1 FOR UPDATE`, s.tableName())
	if err = tx.QueryRow(ctx, lock, conversationID).Scan(&data); err != nil {
		return unavailable("lock checkpoint", err)
	}
	state, err := decode(data)
	if err != nil {
		return unavailable("load checkpoint", err)
	}

	if err = fn(&state); err != nil {
		return err
	}

	encoded, err := encode(state)
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, s.upsertQuery(), conversationID, encoded); err != nil {
		return unavailable("save checkpoint", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return unavailable("commit checkpoint", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, conversationID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE conversation_id = $1`, s.tableName())
	if _, err := s.pool.Exec(ctx, query, conversationID); err != nil {
		return unavailable("delete checkpoint", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
