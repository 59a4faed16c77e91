package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/chatd/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore stores checkpoints as JSON strings. Transact uses optimistic
// locking: the key is WATCHed during the turn and the write is dropped by
// EXEC if it changed, which surfaces as domain.ErrConversationBusy.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

var _ Store = (*RedisStore)(nil)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewRedisStoreFromClient(client, cfg.KeyPrefix)
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewRedisStoreFromClient creates a store from an existing client.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(conversationID string) string {
	return s.keyPrefix + "checkpoint:" + conversationID
}

func (s *RedisStore) Load(ctx context.Context, conversationID string) (domain.AgentState, error) {
	return s.get(ctx, s.client, conversationID)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, conversationID string) (domain.AgentState, error) {
	data, err := c.Get(ctx, s.key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
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

func (s *RedisStore) Save(ctx context.Context, conversationID string, state domain.AgentState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(conversationID), data, 0).Err(); err != nil {
		return unavailable("save checkpoint", err)
	}
	return nil
}

func (s *RedisStore) Transact(ctx context.Context, conversationID string, fn func(*domain.AgentState) error) error {
	key := s.key(conversationID)
	var fnErr error

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		state, err := s.get(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if fnErr = fn(&state); fnErr != nil {
			return fnErr
		}
		data, err := encode(state)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("save checkpoint %s: %w", conversationID, domain.ErrConversationBusy)
	case errors.Is(err, domain.ErrCheckpointUnavailable):
		return err
	default:
		return unavailable("save checkpoint", err)
	}
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return unavailable("delete checkpoint", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
