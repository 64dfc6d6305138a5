package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/cart"
)

const (
	readCartSQL = `SELECT product_id, quantity FROM cart_items
		WHERE owner_id = $1 ORDER BY added_at, product_id`

	clearCartSQL = `DELETE FROM cart_items WHERE owner_id = $1`

	putCartItemSQL = `INSERT INTO cart_items (owner_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, product_id) DO UPDATE SET quantity = $3`
)

var _ cart.Snapshot = (*CartRepository)(nil)

// CartRepository implements cart.Snapshot backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Read returns the owner's cart in the order items were added.
func (r *CartRepository) Read(ctx context.Context, ownerID string) ([]cart.Item, error) {
	rows, err := r.pool.Query(ctx, readCartSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("reading cart of %q: %w", ownerID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var (
			it  cart.Item
			qty int32
		)
		err := row.Scan(&it.ProductID, &qty)
		it.Quantity = int(qty)
		return it, err
	})
}

// Clear empties the owner's cart.
func (r *CartRepository) Clear(ctx context.Context, ownerID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, ownerID); err != nil {
		return fmt.Errorf("clearing cart of %q: %w", ownerID, err)
	}
	return nil
}

// Put sets the quantity of a product in the owner's cart.
func (r *CartRepository) Put(ctx context.Context, ownerID string, it cart.Item) error {
	if _, err := r.pool.Exec(ctx, putCartItemSQL, ownerID, it.ProductID, it.Quantity); err != nil {
		return fmt.Errorf("putting %q into cart of %q: %w", it.ProductID, ownerID, err)
	}
	return nil
}
