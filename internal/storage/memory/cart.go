package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/kart-orders/internal/domain/cart"
)

var _ cart.Snapshot = (*CartStore)(nil)

// CartStore is an in-memory cart.Snapshot.
type CartStore struct {
	mu    sync.Mutex
	carts map[string][]cart.Item
}

// NewCartStore creates an empty CartStore.
func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string][]cart.Item)}
}

// Read returns a copy of the owner's cart.
func (s *CartStore) Read(_ context.Context, ownerID string) ([]cart.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.carts[ownerID]), nil
}

// Clear empties the owner's cart.
func (s *CartStore) Clear(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, ownerID)
	return nil
}

// Put sets the quantity of a product in the owner's cart.
func (s *CartStore) Put(_ context.Context, ownerID string, it cart.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.carts[ownerID]
	for i := range items {
		if items[i].ProductID == it.ProductID {
			items[i].Quantity = it.Quantity
			return nil
		}
	}
	s.carts[ownerID] = append(items, it)
	return nil
}
