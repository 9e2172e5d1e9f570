package session

import (
	"context"
	"sync"

	"github.com/aquila-desktop/aquila-auth/internal/auth"
)

// MemoryStore keeps the encoded session in process memory only.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s *auth.Session) error {
	raw, err := encodeSession(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	zero(m.data)
	m.data = raw
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (*auth.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.data) == 0 {
		return nil, nil
	}
	return decodeSession(m.data)
}

// Clear implements Store. The encoded bytes are zeroed before being dropped.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zero(m.data)
	m.data = nil
	return nil
}
