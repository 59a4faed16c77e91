package checkpoint

import (
	"context"
	"sync"

	"github.com/ashureev/chatd/internal/domain"
)

// MemoryStore keeps encoded checkpoints in process memory. Transactions on the
// same id are serialized by a per-key mutex.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		locks: make(map[string]*keyLock),
	}
}

func (s *MemoryStore) Load(_ context.Context, conversationID string) (domain.AgentState, error) {
	s.mu.Lock()
	data, ok := s.data[conversationID]
	s.mu.Unlock()
	if !ok {
		return domain.NewAgentState(), nil
	}
	return decode(data)
}

func (s *MemoryStore) Save(_ context.Context, conversationID string, state domain.AgentState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[conversationID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Transact(ctx context.Context, conversationID string, fn func(*domain.AgentState) error) error {
	unlock, err := s.lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := s.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := fn(&state); err != nil {
		return err
	}
	return s.Save(ctx, conversationID, state)
}

// lock acquires the per-key mutex, giving up when ctx is done.
func (s *MemoryStore) lock(ctx context.Context, conversationID string) (func(), error) {
	s.mu.Lock()
	kl, ok := s.locks[conversationID]
	if !ok {
		kl = &keyLock{}
		s.locks[conversationID] = kl
	}
	kl.refs++
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(s.locks, conversationID)
		}
		s.mu.Unlock()
	}

	acquired := make(chan struct{})
	go func() {
		kl.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() {
			kl.mu.Unlock()
			release()
		}, nil
	case <-ctx.Done():
		// The pending Lock still completes; hand the mutex straight back.
		go func() {
			<-acquired
			kl.mu.Unlock()
			release()
		}()
		return nil, ctx.Err()
	}
}

// Delete waits for any in-flight Transact on the same id before removing it.
func (s *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	unlock, err := s.lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	delete(s.data, conversationID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
