// Package cart describes the shopping cart as order placement sees it: a
// snapshot to read from and a cart to empty once the order is committed.
package cart

import "context"

// Item is one cart entry.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Snapshot reads and clears a customer's cart.
type Snapshot interface {
	Read(ctx context.Context, ownerID string) ([]Item, error)
	Clear(ctx context.Context, ownerID string) error
}
