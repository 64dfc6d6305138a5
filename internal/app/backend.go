package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/db"
	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/push"
	"github.com/xenking/kart-orders/internal/storage/memory"
	"github.com/xenking/kart-orders/internal/storage/postgres"
	"github.com/xenking/kart-orders/pkg/health"
)

// Demo principals of the memory backend.
const (
	memoryCustomerID = "demo-customer"
	memoryAdminID    = "demo-admin"
)

// backend groups the repositories the service runs on.
type backend struct {
	catalog product.Catalog
	orders  order.Repository
	carts   cart.Snapshot
	apikeys auth.Repository
	audit   order.AuditLog
	close   func()
}

func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) (*backend, error) {
	if cfg.Storage == StorageMemory {
		return openMemory(lg, cfg)
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

	return &backend{
		catalog: postgres.NewProductRepository(pool),
		orders:  postgres.NewOrderRepository(pool),
		carts:   postgres.NewCartRepository(pool),
		apikeys: postgres.NewAPIKeyRepository(pool),
		audit:   postgres.NewAuditRepository(pool),
		close:   pool.Close,
	}, nil
}

// openMemory creates in-process repositories holding the demo catalog. Data
// does not survive a restart.
func openMemory(lg *zap.Logger, cfg *Config) (*backend, error) {
	products, err := db.SeedProducts()
	if err != nil {
		return nil, errors.Wrap(err, "load demo catalog")
	}

	pepper := []byte(cfg.APIKeyPepper)
	var keys []auth.APIKeyInfo
	if k := cfg.Memory.CustomerKey; k != "" {
		keys = append(keys, auth.APIKeyInfo{
			ID:      "demo-customer",
			KeyHash: auth.HashKey(pepper, k),
			UserID:  memoryCustomerID,
			Name:    "Demo customer",
		})
	}
	if k := cfg.Memory.AdminKey; k != "" {
		keys = append(keys, auth.APIKeyInfo{
			ID:      "demo-admin",
			KeyHash: auth.HashKey(pepper, k),
			UserID:  memoryAdminID,
			Name:    "Demo admin",
			Scopes:  []string{auth.ScopeAdmin},
		})
	}
	lg.Warn("Using in-memory storage, data is lost on restart",
		zap.Int("products", len(products)),
		zap.Int("api_keys", len(keys)),
	)

	return &backend{
		catalog: memory.NewCatalog(products...),
		orders:  memory.NewOrderStore(),
		carts:   memory.NewCartStore(),
		apikeys: memory.NewAPIKeyStore(keys...),
		audit:   memory.NewAuditLog(),
		close:   func() {},
	}, nil
}

// openEvents returns the Redis publisher when a Redis URL is configured and
// the log publisher otherwise.
func openEvents(cfg *Config, hs *health.Health) (order.Publisher, func(), error) {
	if cfg.RedisURL == "" {
		return push.LogPublisher{}, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	hs.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(client))

	return push.NewRedisPublisher(client, cfg.Events.Channel), func() { _ = client.Close() }, nil
}
