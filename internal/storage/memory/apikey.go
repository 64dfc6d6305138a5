package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyStore)(nil)

// APIKeyStore is an in-memory auth.Repository keyed by key hash.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]auth.APIKeyInfo
}

// NewAPIKeyStore creates a store holding the given keys.
func NewAPIKeyStore(keys ...auth.APIKeyInfo) *APIKeyStore {
	s := &APIKeyStore{keys: make(map[string]auth.APIKeyInfo, len(keys))}
	for _, k := range keys {
		s.keys[k.KeyHash] = k
	}
	return s
}

// FindByHash returns the key with the given hash.
func (s *APIKeyStore) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[hash]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	k.Scopes = slices.Clone(k.Scopes)
	return &k, nil
}
