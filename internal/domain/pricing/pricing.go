// Package pricing computes order totals from priced line items and checks
// them against the total a client declared.
package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the pricing constants applied to every order.
type Config struct {
	// TaxRate is applied to the subtotal (0.08 means 8%).
	TaxRate decimal.Decimal
	// FlatShipping is charged when the subtotal does not exceed FreeShippingOver.
	FlatShipping decimal.Decimal
	// FreeShippingOver is the subtotal above which shipping is free.
	FreeShippingOver decimal.Decimal
	// Tolerance is the largest accepted absolute difference between the
	// computed total and the client-declared one.
	Tolerance decimal.Decimal
}

// DefaultConfig returns the storefront's standard pricing constants.
func DefaultConfig() Config {
	return Config{
		TaxRate:          decimal.RequireFromString("0.08"),
		FlatShipping:     decimal.NewFromInt(499),
		FreeShippingOver: decimal.NewFromInt(500),
		Tolerance:        decimal.RequireFromString("0.01"),
	}
}

// Validate reports whether the configuration can price an order.
func (c Config) Validate() error {
	switch {
	case c.TaxRate.IsNegative():
		return errors.New("tax rate must not be negative")
	case c.FlatShipping.IsNegative():
		return errors.New("flat shipping must not be negative")
	case c.FreeShippingOver.IsNegative():
		return errors.New("free shipping threshold must not be negative")
	case c.Tolerance.IsNegative():
		return errors.New("tolerance must not be negative")
	}
	return nil
}

// Line is a single priced line item.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Breakdown is the server-computed price of an order. Tax is rounded to cents;
// Total is rounded once, from the unrounded tax.
type Breakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// TotalMismatchError is returned when the client-declared total differs from
// the computed one by more than the configured tolerance.
type TotalMismatchError struct {
	Calculated decimal.Decimal
	Received   decimal.Decimal
}

func (e *TotalMismatchError) Error() string {
	return fmt.Sprintf("order total mismatch: calculated %s, received %s",
		e.Calculated.StringFixed(2), e.Received.StringFixed(2))
}

// Engine prices orders. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine with the given constants.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Compute prices the given lines.
func (e *Engine) Compute(lines []Line) Breakdown {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	tax := subtotal.Mul(e.cfg.TaxRate)

	shipping := e.cfg.FlatShipping
	if subtotal.GreaterThan(e.cfg.FreeShippingOver) {
		shipping = decimal.Zero
	}

	return Breakdown{
		Subtotal: subtotal,
		Tax:      tax.Round(2),
		Shipping: shipping,
		Total:    Total(subtotal, tax, shipping, decimal.Zero),
	}
}

// Verify prices the lines and checks the result against the client total.
// The computed breakdown is authoritative on success.
func (e *Engine) Verify(lines []Line, clientTotal decimal.Decimal) (Breakdown, error) {
	b := e.Compute(lines)
	if b.Total.Sub(clientTotal).Abs().GreaterThan(e.cfg.Tolerance) {
		return Breakdown{}, &TotalMismatchError{
			Calculated: b.Total,
			Received:   clientTotal,
		}
	}
	return b, nil
}

// Total returns round2(subtotal + tax + shipping - discount).
func Total(subtotal, tax, shipping, discount decimal.Decimal) decimal.Decimal {
	return subtotal.Add(tax).Add(shipping).Sub(discount).Round(2)
}
