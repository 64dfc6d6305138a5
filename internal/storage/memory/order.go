package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/order"
)

type orderEntry struct {
	mu sync.Mutex
	o  *order.Order
}

var _ order.Repository = (*OrderStore)(nil)

// OrderStore is an in-memory order.Repository. Updates of one order are
// serialized by that order's lock.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*orderEntry
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*orderEntry)}
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.History = order.RestoreHistory(o.History.Entries())
	if o.EstimatedDelivery != nil {
		t := *o.EstimatedDelivery
		c.EstimatedDelivery = &t
	}
	if o.ActualDelivery != nil {
		t := *o.ActualDelivery
		c.ActualDelivery = &t
	}
	return &c
}

// Create stores a copy of o.
func (s *OrderStore) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = &orderEntry{o: cloneOrder(o)}
	return nil
}

// Update applies fn to a copy of the order and keeps the copy on success.
func (s *OrderStore) Update(_ context.Context, id string, fn func(o *order.Order) error) (*order.Order, error) {
	s.mu.RLock()
	e, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return nil, order.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	o := cloneOrder(e.o)
	if err := fn(o); err != nil {
		return nil, err
	}
	e.o = cloneOrder(o)
	return o, nil
}

// GetByID returns a copy of the order, drafts included.
func (s *OrderStore) GetByID(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	e, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return nil, order.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneOrder(e.o), nil
}

// ListByOwner returns the owner's committed orders, newest first.
func (s *OrderStore) ListByOwner(_ context.Context, ownerID string) ([]order.Order, error) {
	return s.collect(func(o *order.Order) bool { return o.OwnerID == ownerID }), nil
}

// List returns a page of committed orders and the number matching f.
func (s *OrderStore) List(_ context.Context, f order.ListFilter) ([]order.Order, int, error) {
	if f.Offset < 0 || f.Limit < 0 {
		return nil, 0, errors.Errorf("invalid page window: offset %d, limit %d", f.Offset, f.Limit)
	}
	all := s.collect(func(o *order.Order) bool { return f.Status == "" || o.Status == f.Status })
	total := len(all)
	if f.Offset >= total {
		return []order.Order{}, total, nil
	}
	end := total
	if f.Limit > 0 {
		end = min(f.Offset+f.Limit, total)
	}
	return all[f.Offset:end], total, nil
}

func (s *OrderStore) collect(keep func(o *order.Order) bool) []order.Order {
	s.mu.RLock()
	entries := make([]*orderEntry, 0, len(s.orders))
	for _, e := range s.orders {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]order.Order, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.o.Visible() && keep(e.o) {
			out = append(out, *cloneOrder(e.o))
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
