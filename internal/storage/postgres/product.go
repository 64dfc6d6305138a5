package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/product"
)

const (
	getProductByIDSQL = `SELECT id, name, price, category, stock FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, name, price, category, stock FROM products WHERE id = ANY($1)`

	// The stock check and the decrement are a single statement, so two
	// concurrent decrements of the last unit cannot both match.
	decrementStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`

	incrementStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`

	upsertProductSQL = `INSERT INTO products (id, name, price, category, stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = $2, price = $3, category = $4, stock = $5`

	listProductIDsSQL = `SELECT id FROM products`
)

var _ product.Catalog = (*ProductRepository)(nil)

// ProductRepository implements product.Catalog backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs. Unknown IDs are
// skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ConditionalDecrement subtracts qty from stock if at least qty is available.
func (r *ProductRepository) ConditionalDecrement(ctx context.Context, id string, qty int) (bool, error) {
	if qty <= 0 || qty > product.MaxQuantity {
		return false, product.ErrInvalidQuantity
	}
	tag, err := r.pool.Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return false, fmt.Errorf("decrementing stock of %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, productExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking product %q: %w", id, err)
	}
	if !exists {
		return false, product.ErrNotFound
	}
	return false, nil
}

// Increment adds qty back to the product's stock.
func (r *ProductRepository) Increment(ctx context.Context, id string, qty int) error {
	if qty <= 0 || qty > product.MaxQuantity {
		return product.ErrInvalidQuantity
	}
	tag, err := r.pool.Exec(ctx, incrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("incrementing stock of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// Upsert inserts or replaces a product.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Category, p.Stock)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// EachID calls fn for every product id in the catalog.
func (r *ProductRepository) EachID(ctx context.Context, fn func(id string) error) error {
	rows, err := r.pool.Query(ctx, listProductIDsSQL)
	if err != nil {
		return fmt.Errorf("listing product ids: %w", err)
	}
	var id string
	_, err = pgx.ForEachRow(rows, []any{&id}, func() error {
		return fn(id)
	})
	if err != nil {
		return fmt.Errorf("listing product ids: %w", err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		stock int32
	)
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &stock)
	p.Stock = int(stock)
	return p, err
}
