// Package memory implements the storage interfaces in process. Stock
// counters are guarded per product, so decrements of unrelated products never
// wait on each other.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xenking/kart-orders/internal/domain/product"
)

type productEntry struct {
	mu sync.Mutex
	p  product.Product
}

var _ product.Catalog = (*Catalog)(nil)

// Catalog is an in-memory product.Catalog.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]*productEntry
}

// NewCatalog creates a catalog holding the given products.
func NewCatalog(products ...product.Product) *Catalog {
	c := &Catalog{products: make(map[string]*productEntry, len(products))}
	for _, p := range products {
		c.Upsert(p)
	}
	return c
}

// Upsert inserts or replaces a product.
func (c *Catalog) Upsert(p product.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.products[p.ID]; ok {
		e.mu.Lock()
		e.p = p
		e.mu.Unlock()
		return
	}
	c.products[p.ID] = &productEntry{p: p}
}

func (c *Catalog) entry(id string) (*productEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.products[id]
	return e, ok
}

// GetByID returns a copy of the product.
func (c *Catalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	e, ok := c.entry(id)
	if !ok {
		return nil, product.ErrNotFound
	}
	e.mu.Lock()
	p := e.p
	e.mu.Unlock()
	return &p, nil
}

// GetByIDs returns copies of the known products among ids, sorted by id.
func (c *Catalog) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p, err := c.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ConditionalDecrement subtracts qty while holding the product's lock.
func (c *Catalog) ConditionalDecrement(_ context.Context, id string, qty int) (bool, error) {
	if qty <= 0 || qty > product.MaxQuantity {
		return false, product.ErrInvalidQuantity
	}
	e, ok := c.entry(id)
	if !ok {
		return false, product.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.p.Stock < qty {
		return false, nil
	}
	e.p.Stock -= qty
	return true, nil
}

// Increment adds qty to the product's stock.
func (c *Catalog) Increment(_ context.Context, id string, qty int) error {
	if qty <= 0 || qty > product.MaxQuantity {
		return product.ErrInvalidQuantity
	}
	e, ok := c.entry(id)
	if !ok {
		return product.ErrNotFound
	}
	e.mu.Lock()
	e.p.Stock += qty
	e.mu.Unlock()
	return nil
}
