package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/purge"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		archivePath string
		cfg         purge.Config
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&archivePath, "archive", "", "path of the gzip JSONL archive of purged items")
	flag.BoolVar(&cfg.DryRun, "dry-run", false, "archive what would be purged without changing orders")
	flag.IntVar(&cfg.BatchSize, "batch-size", 500, "orders read per page")
	flag.UintVar(&cfg.Capacity, "bloom-capacity", 1_000_000, "expected number of products")
	flag.Float64Var(&cfg.FalsePositiveRate, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if archivePath == "" {
		lg.Fatal("Archive path is required: set --archive")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, databaseURL, archivePath, cfg); err != nil {
		lg.Fatal("Purge failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, archivePath string, cfg purge.Config) (rerr error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	f, err := os.Create(archivePath)
	if err != nil {
		return errors.Wrap(err, "create archive")
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = errors.Wrap(err, "close archive")
		}
	}()
	gz := pgzip.NewWriter(f)

	p := purge.New(
		postgres.NewOrderRepository(pool),
		postgres.NewProductRepository(pool),
		postgres.NewAuditRepository(pool),
		cfg,
	)
	stats, err := p.Run(ctx, gz)
	if closeErr := gz.Close(); closeErr != nil && err == nil {
		err = errors.Wrap(closeErr, "finish archive")
	}
	if err != nil {
		return err
	}

	lg.Info("Purge completed",
		zap.Int("products", stats.Products),
		zap.Int("orders", stats.Orders),
		zap.Int("items", stats.Items),
		zap.Int("purged_items", stats.PurgedItems),
		zap.Int("rewritten_orders", stats.Rewritten),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("archive", archivePath),
	)
	return nil
}
