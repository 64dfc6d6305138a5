// Package inventory reserves stock for an order's line items as a single
// all-or-nothing unit on top of the catalog's conditional decrement.
package inventory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/product"
)

const (
	compensateAttempts = 3
	compensateBackoff  = 50 * time.Millisecond
)

// Line is a request to reserve Quantity units of a product.
type Line struct {
	ProductID string
	Quantity  int
}

// InsufficientStockError reports the first product that could not cover its
// requested quantity.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// CompensationError means some decrements of a failed reservation could not
// be returned to stock. Cause is the error that triggered the rollback.
type CompensationError struct {
	Cause  error
	Failed []Line
	Err    error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensate %d lines after %v: %v", len(e.Failed), e.Cause, e.Err)
}

func (e *CompensationError) Unwrap() []error {
	return []error{e.Cause, e.Err}
}

// Reservation is a set of decrements that have been applied to the catalog.
type Reservation struct {
	lines []Line
}

// Lines returns the reserved quantities, one entry per product.
func (r *Reservation) Lines() []Line {
	if r == nil {
		return nil
	}
	return slices.Clone(r.lines)
}

// Option configures a Reserver.
type Option func(*Reserver)

// WithMeterProvider records reservation outcomes with the given provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Reserver) {
		r.meter = mp.Meter("github.com/xenking/kart-orders/internal/domain/inventory")
	}
}

// Reserver applies and compensates stock decrements. Unrelated products never
// contend with each other: the only synchronization is the catalog's
// per-product conditional decrement.
type Reserver struct {
	catalog product.Catalog
	meter   metric.Meter

	rejections    metric.Int64Counter
	compensations metric.Int64Counter
}

// NewReserver creates a Reserver backed by the given catalog.
func NewReserver(catalog product.Catalog, opts ...Option) (*Reserver, error) {
	r := &Reserver{
		catalog: catalog,
		meter:   noop.NewMeterProvider().Meter(""),
	}
	for _, opt := range opts {
		opt(r)
	}

	var err error
	if r.rejections, err = r.meter.Int64Counter("inventory.reservation.rejections",
		metric.WithDescription("Reservations rejected for insufficient stock"),
	); err != nil {
		return nil, errors.Wrap(err, "create rejections counter")
	}
	if r.compensations, err = r.meter.Int64Counter("inventory.reservation.compensations",
		metric.WithDescription("Stock decrements returned after a failed reservation"),
	); err != nil {
		return nil, errors.Wrap(err, "create compensations counter")
	}
	return r, nil
}

// Check verifies that every product in the snapshot can cover its requested
// quantity without touching stock. It lets obviously unfulfillable orders fail
// before any mutation; ReserveAll remains the authority under concurrency.
func Check(lines []Line, snapshot map[string]product.Product) error {
	merged, err := Merge(lines)
	if err != nil {
		return err
	}
	for _, l := range merged {
		p, ok := snapshot[l.ProductID]
		if !ok {
			continue
		}
		if p.Stock < l.Quantity {
			return &InsufficientStockError{
				ProductID: l.ProductID,
				Available: p.Stock,
				Requested: l.Quantity,
			}
		}
	}
	return nil
}

// ReserveAll decrements stock for every line or for none of them. Lines for
// the same product are merged first. When a conditional decrement fails, all
// decrements already applied are compensated before the error is returned.
//
// The operation ignores cancellation of ctx once started: a half-applied
// reservation is never left behind because the caller went away.
func (r *Reserver) ReserveAll(ctx context.Context, lines []Line) (*Reservation, error) {
	ctx = context.WithoutCancel(ctx)

	merged, err := Merge(lines)
	if err != nil {
		return nil, err
	}
	applied := make([]Line, 0, len(merged))
	for _, l := range merged {
		ok, err := r.catalog.ConditionalDecrement(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return nil, r.rollback(ctx, applied, errors.Wrapf(err, "decrement stock for %s", l.ProductID))
		}
		if !ok {
			r.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("product_id", l.ProductID)))
			return nil, r.rollback(ctx, applied, &InsufficientStockError{
				ProductID: l.ProductID,
				Available: r.available(ctx, l.ProductID),
				Requested: l.Quantity,
			})
		}
		applied = append(applied, l)
	}
	return &Reservation{lines: applied}, nil
}

// Release returns every decrement of the reservation to stock.
func (r *Reserver) Release(ctx context.Context, res *Reservation) error {
	ctx = context.WithoutCancel(ctx)
	failed, err := r.compensate(ctx, res.Lines())
	if err != nil {
		return &CompensationError{Cause: errors.New("release reservation"), Failed: failed, Err: err}
	}
	return nil
}

func (r *Reserver) rollback(ctx context.Context, applied []Line, cause error) error {
	failed, err := r.compensate(ctx, applied)
	if err != nil {
		return &CompensationError{Cause: cause, Failed: failed, Err: err}
	}
	return cause
}

// compensate re-increments the applied lines in reverse order, retrying each
// a few times. It returns the lines that could not be restored.
func (r *Reserver) compensate(ctx context.Context, applied []Line) ([]Line, error) {
	var (
		failed  []Line
		lastErr error
	)
	for i := len(applied) - 1; i >= 0; i-- {
		l := applied[i]
		if err := r.increment(ctx, l); err != nil {
			zctx.From(ctx).Error("Stock compensation failed",
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err),
			)
			failed = append(failed, l)
			lastErr = err
			continue
		}
		r.compensations.Add(ctx, 1)
	}
	return failed, lastErr
}

func (r *Reserver) increment(ctx context.Context, l Line) error {
	var err error
	for attempt := range compensateAttempts {
		if attempt > 0 {
			time.Sleep(compensateBackoff * time.Duration(attempt))
		}
		if err = r.catalog.Increment(ctx, l.ProductID, l.Quantity); err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "increment stock for %s", l.ProductID)
}

// available reads the product's current stock for error reporting.
func (r *Reserver) available(ctx context.Context, id string) int {
	p, err := r.catalog.GetByID(ctx, id)
	if err != nil {
		zctx.From(ctx).Warn("Read stock after failed decrement", zap.String("product_id", id), zap.Error(err))
		return 0
	}
	return p.Stock
}

// Merge sums quantities of lines that share a product, keeping first-seen order.
// Every quantity, merged or not, must lie in [1, product.MaxQuantity].
func Merge(lines []Line) ([]Line, error) {
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 || l.Quantity > product.MaxQuantity {
			return nil, errors.Wrapf(product.ErrInvalidQuantity, "product %s quantity %d", l.ProductID, l.Quantity)
		}
		i, ok := idx[l.ProductID]
		if !ok {
			idx[l.ProductID] = len(out)
			out = append(out, l)
			continue
		}
		if out[i].Quantity > product.MaxQuantity-l.Quantity {
			return nil, errors.Wrapf(product.ErrInvalidQuantity, "product %s merged quantity exceeds %d", l.ProductID, product.MaxQuantity)
		}
		out[i].Quantity += l.Quantity
	}
	return out, nil
}
