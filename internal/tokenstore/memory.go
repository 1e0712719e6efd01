package tokenstore

import (
	"context"
	"sync"
)

// MemoryStore is a non-durable store for tests and short-lived embeddings.
type MemoryStore struct {
	mu    sync.RWMutex
	state State
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

func (m *MemoryStore) Set(_ context.Context, state State) error {
	if err := state.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.state = State{}
	m.mu.Unlock()
	return nil
}
