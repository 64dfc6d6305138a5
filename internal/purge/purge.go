// Package purge removes line items whose product no longer exists in the
// catalog. Removed items are archived before the order is rewritten.
//
// Known product ids are loaded into a bloom filter first. An item whose
// product tests negative is a candidate; candidates are confirmed against the
// catalog before anything is purged, so products created after the filter was
// built are kept. A false positive keeps an orphaned item until a later run.
package purge

import (
	"context"
	"encoding/json"
	"io"
	"slices"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

// AuditAction is recorded for every order the job rewrites.
const AuditAction = "maintenance.purge"

// Orders pages through order items and rewrites them.
type Orders interface {
	ScanItems(ctx context.Context, afterID string, limit int) ([]postgres.OrderItems, error)
	ReplaceItems(ctx context.Context, orderID string, items []order.Item) error
}

// Catalog lists and looks up products.
type Catalog interface {
	EachID(ctx context.Context, fn func(id string) error) error
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// Config controls a purge run.
type Config struct {
	// BatchSize is the number of orders read per page.
	BatchSize int
	// Capacity and FalsePositiveRate size the bloom filter.
	Capacity          uint
	FalsePositiveRate float64
	// DryRun archives what would be purged without rewriting orders.
	DryRun bool
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.Capacity == 0 {
		c.Capacity = 1_000_000
	}
	if c.FalsePositiveRate <= 0 {
		c.FalsePositiveRate = 0.001
	}
}

// Stats summarizes a run.
type Stats struct {
	Products    int
	Orders      int
	Items       int
	PurgedItems int
	// Rewritten counts orders that lost at least one item.
	Rewritten int
}

// Record is one archived line of the JSONL archive.
type Record struct {
	OrderID  string       `json:"orderId"`
	Items    []order.Item `json:"items"`
	PurgedAt time.Time    `json:"purgedAt"`
}

// Purger runs the purge job.
type Purger struct {
	orders  Orders
	catalog Catalog
	audit   order.AuditLog
	cfg     Config
	clock   func() time.Time
}

// New creates a Purger.
func New(orders Orders, catalog Catalog, audit order.AuditLog, cfg Config) *Purger {
	cfg.setDefaults()
	return &Purger{
		orders:  orders,
		catalog: catalog,
		audit:   audit,
		cfg:     cfg,
		clock:   time.Now,
	}
}

// flusher is implemented by compressing writers such as pgzip.Writer.
type flusher interface {
	Flush() error
}

// Run purges orphaned items, writing each purged set to archive as one JSON
// line. Archive records are flushed before the order is rewritten.
func (p *Purger) Run(ctx context.Context, archive io.Writer) (Stats, error) {
	lg := zctx.From(ctx)

	var stats Stats
	filter := bloom.NewWithEstimates(p.cfg.Capacity, p.cfg.FalsePositiveRate)
	if err := p.catalog.EachID(ctx, func(id string) error {
		filter.AddString(id)
		stats.Products++
		return nil
	}); err != nil {
		return stats, errors.Wrap(err, "load product ids")
	}
	lg.Info("Built product filter", zap.Int("products", stats.Products))

	pages := make(chan []postgres.OrderItems)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pages)
		after := ""
		for {
			page, err := p.orders.ScanItems(gctx, after, p.cfg.BatchSize)
			if err != nil {
				return errors.Wrap(err, "scan orders")
			}
			if len(page) == 0 {
				return nil
			}
			select {
			case pages <- page:
			case <-gctx.Done():
				return gctx.Err()
			}
			after = page[len(page)-1].OrderID
		}
	})
	g.Go(func() error {
		enc := json.NewEncoder(archive)
		for page := range pages {
			for _, oi := range page {
				stats.Orders++
				stats.Items += len(oi.Items)
				purged, err := p.purgeOrder(gctx, lg, filter, enc, archive, oi)
				if err != nil {
					return errors.Wrapf(err, "purge order %s", oi.OrderID)
				}
				if purged > 0 {
					stats.PurgedItems += purged
					stats.Rewritten++
				}
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (p *Purger) purgeOrder(
	ctx context.Context,
	lg *zap.Logger,
	filter *bloom.BloomFilter,
	enc *json.Encoder,
	archive io.Writer,
	oi postgres.OrderItems,
) (int, error) {
	var candidates []string
	for _, it := range oi.Items {
		if !filter.TestString(it.ProductID) {
			candidates = append(candidates, it.ProductID)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	found, err := p.catalog.GetByIDs(ctx, candidates)
	if err != nil {
		return 0, errors.Wrap(err, "confirm candidates")
	}
	exists := make(map[string]bool, len(found))
	for _, pr := range found {
		exists[pr.ID] = true
	}

	var kept, purged []order.Item
	for _, it := range oi.Items {
		if slices.Contains(candidates, it.ProductID) && !exists[it.ProductID] {
			purged = append(purged, it)
			continue
		}
		kept = append(kept, it)
	}
	if len(purged) == 0 {
		return 0, nil
	}

	now := p.clock().UTC()
	if err := enc.Encode(Record{OrderID: oi.OrderID, Items: purged, PurgedAt: now}); err != nil {
		return 0, errors.Wrap(err, "archive items")
	}
	if f, ok := archive.(flusher); ok {
		if err := f.Flush(); err != nil {
			return 0, errors.Wrap(err, "flush archive")
		}
	}

	ids := make([]string, len(purged))
	for i, it := range purged {
		ids[i] = it.ProductID
	}
	lg.Info("Purging order items",
		zap.String("order_id", oi.OrderID),
		zap.Strings("products", ids),
		zap.Bool("dry_run", p.cfg.DryRun),
	)
	if p.cfg.DryRun {
		return len(purged), nil
	}

	if kept == nil {
		kept = []order.Item{}
	}
	if err := p.orders.ReplaceItems(ctx, oi.OrderID, kept); err != nil {
		return 0, errors.Wrap(err, "replace items")
	}
	if err := p.audit.Record(ctx, order.AuditEntry{
		OrderID: oi.OrderID,
		Actor:   order.ActorSystem,
		Action:  AuditAction,
		Changes: map[string]any{"purgedProducts": ids},
		At:      now,
	}); err != nil {
		lg.Error("Record purge audit entry", zap.String("order_id", oi.OrderID), zap.Error(err))
	}
	return len(purged), nil
}

