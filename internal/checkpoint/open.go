package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ashureev/chatd/internal/config"
)

// Open builds the store selected by cfg.Backend. sqliteDB is only used by the
// sqlite backend and may be nil otherwise.
func Open(ctx context.Context, cfg config.CheckpointConfig, sqliteDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		if sqliteDB == nil {
			return nil, fmt.Errorf("sqlite checkpoint backend requires a database handle")
		}
		s, err := NewSQLiteStore(ctx, sqliteDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		slog.Info("Using PostgreSQL checkpoint store", "schema", cfg.PostgresSchema)
		s, err := NewPostgresStore(ctx, cfg.PostgresURL, cfg.PostgresSchema)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		slog.Info("Using Redis checkpoint store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		s, err := NewRedisStore(ctx, RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		slog.Warn("Using in-memory checkpoint store; conversations are lost on restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
