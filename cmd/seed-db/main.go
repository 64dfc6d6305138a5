package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/db"
	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	productsFile string
	customerKey  string
	adminKey     string
	pepper       string
	demoCart     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "", "path to products JSON file (default: embedded demo catalog)")
	flag.StringVar(&opts.customerKey, "customer-key", "", "customer API key to seed (or ORDERS_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&opts.adminKey, "admin-key", "", "admin API key to seed (or ORDERS_SEED_ADMIN_KEY env)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or ORDERS_API_KEY_PEPPER env)")
	flag.BoolVar(&opts.demoCart, "demo-cart", true, "fill the demo customer's cart")
	flag.Parse()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.customerKey = orEnv(opts.customerKey, "ORDERS_SEED_CUSTOMER_KEY")
	opts.adminKey = orEnv(opts.adminKey, "ORDERS_SEED_ADMIN_KEY")
	opts.pepper = orEnv(opts.pepper, "ORDERS_API_KEY_PEPPER")

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := loadProducts(opts.productsFile)
	if err != nil {
		return err
	}
	if err := seedProducts(ctx, lg, postgres.NewProductRepository(pool), products); err != nil {
		return errors.Wrap(err, "seed products")
	}

	keys := postgres.NewAPIKeyRepository(pool)
	pepper := []byte(opts.pepper)
	if opts.customerKey != "" {
		if err := seedKey(ctx, lg, keys, auth.APIKeyInfo{
			ID:      "demo-customer",
			KeyHash: auth.HashKey(pepper, opts.customerKey),
			UserID:  "demo-customer",
			Email:   "customer@example.com",
			Name:    "Demo customer",
		}); err != nil {
			return err
		}
	}
	if opts.adminKey != "" {
		if err := seedKey(ctx, lg, keys, auth.APIKeyInfo{
			ID:      "demo-admin",
			KeyHash: auth.HashKey(pepper, opts.adminKey),
			UserID:  "demo-admin",
			Email:   "admin@example.com",
			Name:    "Demo admin",
			Scopes:  []string{auth.ScopeAdmin},
		}); err != nil {
			return err
		}
	}

	if opts.demoCart && len(products) >= 2 {
		carts := postgres.NewCartRepository(pool)
		for _, it := range []cart.Item{
			{ProductID: products[0].ID, Quantity: 2},
			{ProductID: products[1].ID, Quantity: 1},
		} {
			if err := carts.Put(ctx, "demo-customer", it); err != nil {
				return errors.Wrap(err, "seed demo cart")
			}
		}
		lg.Info("Filled demo cart", zap.String("owner_id", "demo-customer"))
	}
	return nil
}

func loadProducts(path string) ([]product.Product, error) {
	if path == "" {
		return db.SeedProducts()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}
	return db.ParseProducts(data)
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.ProductRepository, products []product.Product) error {
	lg.Info("Upserting products", zap.Int("count", len(products)))
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Debug("Upserted product",
			zap.String("id", p.ID),
			zap.String("name", p.Name),
			zap.Int("stock", p.Stock),
		)
	}
	return nil
}

func seedKey(ctx context.Context, lg *zap.Logger, repo *postgres.APIKeyRepository, k auth.APIKeyInfo) error {
	if err := repo.Upsert(ctx, k); err != nil {
		return errors.Wrapf(err, "upsert api key %s", k.ID)
	}
	lg.Info("Upserted API key", zap.String("id", k.ID), zap.Strings("scopes", k.Scopes))
	return nil
}
