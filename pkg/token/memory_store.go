package token

import (
	"context"
	"sync"
)

// MemoryStore is the in-process token store used for single-node deployments
// and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*Token)}
}

// Get returns the cached token for a channel, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, channel string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[channel]
	if !ok {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

// Upsert stores the token for its channel, replacing any previous one.
func (s *MemoryStore) Upsert(_ context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tok
	s.tokens[tok.Channel] = &cp
	return nil
}

// Delete drops the cached token for a channel.
func (s *MemoryStore) Delete(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, channel)
	return nil
}
