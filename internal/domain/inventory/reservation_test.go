package inventory

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/product"
)

type fakeCatalog struct {
	mu    sync.Mutex
	stock map[string]int

	incrementErr error
	increments   int
	sawCancelled bool
}

func newFakeCatalog(stock map[string]int) *fakeCatalog {
	return &fakeCatalog{stock: stock}
}

func (c *fakeCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stock[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &product.Product{ID: id, Price: decimal.NewFromInt(1), Stock: s}, nil
}

func (c *fakeCatalog) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, err := c.GetByID(ctx, id); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (c *fakeCatalog) ConditionalDecrement(ctx context.Context, id string, qty int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		c.sawCancelled = true
	}
	s, ok := c.stock[id]
	if !ok {
		return false, product.ErrNotFound
	}
	if s < qty {
		return false, nil
	}
	c.stock[id] = s - qty
	return true, nil
}

func (c *fakeCatalog) Increment(_ context.Context, id string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.increments++
	if c.incrementErr != nil {
		return c.incrementErr
	}
	c.stock[id] += qty
	return nil
}

func (c *fakeCatalog) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stock[id]
}

func newTestReserver(t *testing.T, c product.Catalog) *Reserver {
	t.Helper()
	r, err := NewReserver(c)
	require.NoError(t, err)
	return r
}

func TestReserveAll(t *testing.T) {
	c := newFakeCatalog(map[string]int{"A": 10, "B": 5})
	r := newTestReserver(t, c)

	res, err := r.ReserveAll(context.Background(), []Line{
		{ProductID: "A", Quantity: 2},
		{ProductID: "B", Quantity: 1},
		{ProductID: "A", Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "A", Quantity: 5}, {ProductID: "B", Quantity: 1}}, res.Lines())
	assert.Equal(t, 5, c.get("A"))
	assert.Equal(t, 4, c.get("B"))

	require.NoError(t, r.Release(context.Background(), res))
	assert.Equal(t, 10, c.get("A"))
	assert.Equal(t, 5, c.get("B"))
}

func TestReserveAll_InsufficientStockCompensates(t *testing.T) {
	c := newFakeCatalog(map[string]int{"A": 10, "B": 5, "C": 0})
	r := newTestReserver(t, c)

	_, err := r.ReserveAll(context.Background(), []Line{
		{ProductID: "A", Quantity: 2},
		{ProductID: "B", Quantity: 1},
		{ProductID: "C", Quantity: 1},
	})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "C", stockErr.ProductID)
	assert.Equal(t, 0, stockErr.Available)
	assert.Equal(t, 1, stockErr.Requested)

	assert.Equal(t, 10, c.get("A"))
	assert.Equal(t, 5, c.get("B"))
	assert.Equal(t, 2, c.increments)
}

func TestReserveAll_UnknownProduct(t *testing.T) {
	c := newFakeCatalog(map[string]int{"A": 10})
	r := newTestReserver(t, c)

	_, err := r.ReserveAll(context.Background(), []Line{
		{ProductID: "A", Quantity: 1},
		{ProductID: "Z", Quantity: 1},
	})
	require.ErrorIs(t, err, product.ErrNotFound)
	assert.Equal(t, 10, c.get("A"))
}

func TestReserveAll_CompensationFailure(t *testing.T) {
	incErr := errors.New("connection reset")
	c := newFakeCatalog(map[string]int{"A": 10, "B": 0})
	c.incrementErr = incErr
	r := newTestReserver(t, c)

	_, err := r.ReserveAll(context.Background(), []Line{
		{ProductID: "A", Quantity: 4},
		{ProductID: "B", Quantity: 1},
	})

	var compErr *CompensationError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, []Line{{ProductID: "A", Quantity: 4}}, compErr.Failed)
	require.ErrorIs(t, err, incErr)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr, "the triggering cause stays reachable")
	assert.Equal(t, "B", stockErr.ProductID)
	assert.Equal(t, compensateAttempts, c.increments)
}

func TestReserveAll_IgnoresCancellation(t *testing.T) {
	c := newFakeCatalog(map[string]int{"A": 1})
	r := newTestReserver(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ReserveAll(ctx, []Line{{ProductID: "A", Quantity: 1}})
	require.NoError(t, err)
	assert.False(t, c.sawCancelled)
	assert.Zero(t, c.get("A"))
}

func TestReserveAll_LastUnitRace(t *testing.T) {
	c := newFakeCatalog(map[string]int{"D": 1})
	r := newTestReserver(t, c)

	const n = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.ReserveAll(context.Background(), []Line{{ProductID: "D", Quantity: 1}}); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
	assert.Zero(t, c.get("D"))
}

func TestCheck(t *testing.T) {
	snapshot := map[string]product.Product{
		"A": {ID: "A", Stock: 3},
		"B": {ID: "B", Stock: 1},
	}
	tests := []struct {
		name    string
		lines   []Line
		product string
	}{
		{name: "fits", lines: []Line{{"A", 3}, {"B", 1}}},
		{name: "unknown skipped", lines: []Line{{"Z", 100}}},
		{name: "merged over stock", lines: []Line{{"A", 2}, {"A", 2}}, product: "A"},
		{name: "single over stock", lines: []Line{{"A", 1}, {"B", 2}}, product: "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.lines, snapshot)
			if tt.product == "" {
				require.NoError(t, err)
				return
			}
			var stockErr *InsufficientStockError
			require.ErrorAs(t, err, &stockErr)
			assert.Equal(t, tt.product, stockErr.ProductID)
		})
	}
}

func TestMerge(t *testing.T) {
	got, err := Merge([]Line{{"B", 1}, {"A", 2}, {"B", 3}})
	require.NoError(t, err)
	assert.Equal(t, []Line{{"B", 4}, {"A", 2}}, got)

	got, err = Merge(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMerge_InvalidQuantity(t *testing.T) {
	tests := []struct {
		name  string
		lines []Line
	}{
		{name: "zero", lines: []Line{{"A", 0}}},
		{name: "negative", lines: []Line{{"A", 1}, {"B", -1}}},
		{name: "above max", lines: []Line{{"A", product.MaxQuantity + 1}}},
		{name: "duplicates overflow max", lines: []Line{{"A", product.MaxQuantity}, {"A", 1}}},
		{name: "duplicates overflow int", lines: []Line{{"A", math.MaxInt}, {"A", math.MaxInt}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(tt.lines)
			require.ErrorIs(t, err, product.ErrInvalidQuantity)
		})
	}

	got, err := Merge([]Line{{"A", product.MaxQuantity - 1}, {"A", 1}})
	require.NoError(t, err)
	assert.Equal(t, []Line{{"A", product.MaxQuantity}}, got)
}

func TestReserveAll_DuplicateLinesNeverRaiseStock(t *testing.T) {
	c := newFakeCatalog(map[string]int{"A": 5, "D": 1})
	r := newTestReserver(t, c)

	lines := []Line{
		{ProductID: "A", Quantity: 1},
		{ProductID: "D", Quantity: math.MaxInt},
		{ProductID: "D", Quantity: math.MaxInt},
	}
	require.ErrorIs(t, Check(lines, map[string]product.Product{"D": {ID: "D", Stock: 1}}), product.ErrInvalidQuantity)

	_, err := r.ReserveAll(context.Background(), lines)
	require.ErrorIs(t, err, product.ErrInvalidQuantity)
	assert.Equal(t, 5, c.get("A"))
	assert.Equal(t, 1, c.get("D"))
	assert.Zero(t, c.increments)
}
