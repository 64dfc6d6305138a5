package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order operations.
var (
	ErrEmptyItems              = errors.New("items required")
	ErrNotFound                = errors.New("order not found")
	ErrForbidden               = errors.New("forbidden")
	ErrInvalidStatus           = errors.New("invalid status")
	ErrInvalidDiscount         = errors.New("invalid discount")
	ErrInvalidDate             = errors.New("invalid date")
	ErrInvalidPaymentMethod    = errors.New("invalid payment method")
	ErrTrackingNumberImmutable = errors.New("tracking number already set")
)

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// PersistenceError wraps a storage failure. It is fatal for the request.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// persistence maps a repository error: ErrNotFound passes through, anything
// else becomes a PersistenceError.
func persistence(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return &PersistenceError{Op: op, Err: err}
}
