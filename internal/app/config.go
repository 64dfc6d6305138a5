package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/pricing"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for order events (ORDERS_REDIS_URL or REDIS_URL); events are only logged when empty" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (ORDERS_API_KEY_PEPPER)" flag:"api-key-pepper"`
	JWTSecret    string `usage:"HS256 secret for bearer tokens; bearer auth is off when empty" flag:"jwt-secret"`
	Pricing      PricingConfig
	Events       EventsConfig
	Memory       MemoryConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// PricingConfig holds the pricing constants as decimal strings.
type PricingConfig struct {
	TaxRate          string `default:"0.08" usage:"Tax rate applied to the subtotal"`
	FlatShipping     string `default:"499" usage:"Shipping fee below the free shipping threshold"`
	FreeShippingOver string `default:"500" usage:"Subtotal above which shipping is free"`
	Tolerance        string `default:"0.01" usage:"Accepted difference between client and server totals"`
}

// EventsConfig controls order event publishing.
type EventsConfig struct {
	Channel string `default:"orders.events" usage:"Redis pub/sub channel for order events"`
}

// MemoryConfig seeds the in-memory storage backend.
type MemoryConfig struct {
	CustomerKey string `usage:"API key of the demo customer in memory storage" flag:"memory-customer-key"`
	AdminKey    string `usage:"API key of the demo admin in memory storage" flag:"memory-admin-key"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Rate  float64 `default:"10" usage:"Sustained requests per second per client"`
	Burst int     `default:"50" usage:"Requests a client may burst above the rate"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(acfg aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate reports configuration errors that would prevent startup.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rate limit rate and burst must be positive")
	}
	if _, err := c.PricingConfig(); err != nil {
		return err
	}
	return nil
}

// PricingConfig parses the pricing section.
func (c *Config) PricingConfig() (pricing.Config, error) {
	var (
		out pricing.Config
		err error
	)
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"tax rate", c.Pricing.TaxRate, &out.TaxRate},
		{"flat shipping", c.Pricing.FlatShipping, &out.FlatShipping},
		{"free shipping threshold", c.Pricing.FreeShippingOver, &out.FreeShippingOver},
		{"tolerance", c.Pricing.Tolerance, &out.Tolerance},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.value); err != nil {
			return pricing.Config{}, errors.Wrapf(err, "parse %s", f.name)
		}
	}
	if err := out.Validate(); err != nil {
		return pricing.Config{}, errors.Wrap(err, "pricing")
	}
	return out, nil
}
