package store

import (
	"context"
	"sync"
)

// MockThreadLockStore is an in-memory ThreadLockStore for tests
type MockThreadLockStore struct {
	mu     sync.Mutex
	Held   map[string]bool
	Active int
	// Allow forcing errors for testing
	Err error
}

func NewMockThreadLockStore() *MockThreadLockStore {
	return &MockThreadLockStore{Held: make(map[string]bool)}
}

func (m *MockThreadLockStore) Acquire(ctx context.Context, threadID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Held[threadID] {
		return nil, ErrThreadBusy
	}
	m.Held[threadID] = true
	m.Active++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.Held, threadID)
		m.Active--
	}, nil
}
