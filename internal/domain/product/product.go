package product

import (
	"context"
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInvalidQuantity is returned for a stock change outside [1, MaxQuantity].
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// MaxQuantity is the largest stock change a single order may request. Stock
// is stored as a 32-bit integer.
const MaxQuantity = math.MaxInt32

// Product is the catalog's view of an item: its current price and the shared
// stock counter that order placement draws from.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	Stock    int
}

// Catalog provides price and stock reads and the conditional stock updates
// order placement relies on.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// ConditionalDecrement subtracts qty from the product's stock only if the
	// current stock is at least qty. It reports whether the decrement happened.
	// A missing product returns ErrNotFound, a qty outside
	// [1, MaxQuantity] ErrInvalidQuantity.
	ConditionalDecrement(ctx context.Context, id string, qty int) (bool, error)
	// Increment adds qty back to the product's stock. A qty outside
	// [1, MaxQuantity] returns ErrInvalidQuantity.
	Increment(ctx context.Context, id string, qty int) error
}
