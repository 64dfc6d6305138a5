// Package app wires configuration, storage, the order service and the HTTP
// server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/handler"
	"github.com/xenking/kart-orders/pkg/health"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

const serviceName = "orders-api"

// Server is the assembled application: storage, event publishing, the order
// service and the HTTP handler chain in front of it.
type Server struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

// NewServer opens storage and event publishing and builds the handler chain.
// Health checks run until ctx is done or Close is called.
func NewServer(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (_ *Server, rerr error) {
	pricingCfg, err := cfg.PricingConfig()
	if err != nil {
		return nil, errors.Wrap(err, "pricing config")
	}

	s := &Server{health: health.New()}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()
	s.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	be, err := openBackend(ctx, lg, cfg, s.health)
	if err != nil {
		return nil, errors.Wrap(err, "open storage")
	}
	s.closers = append(s.closers, be.close)

	events, closeEvents, err := openEvents(cfg, s.health)
	if err != nil {
		return nil, errors.Wrap(err, "open events")
	}
	s.closers = append(s.closers, closeEvents)

	reserver, err := inventory.NewReserver(be.catalog, inventory.WithMeterProvider(mp))
	if err != nil {
		return nil, errors.Wrap(err, "create reserver")
	}
	orderService, err := order.NewService(order.Deps{
		Catalog:        be.catalog,
		Reserver:       reserver,
		Pricing:        pricing.NewEngine(pricingCfg),
		Orders:         be.orders,
		Carts:          be.carts,
		Events:         events,
		Audit:          be.audit,
		MeterProvider:  mp,
		TracerProvider: tp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	authn := handler.NewAuthenticator(be.apikeys, []byte(cfg.APIKeyPepper), []byte(cfg.JWTSecret))
	api := handler.New(orderService, authn).Routes()

	// Mux: health endpoints + order API on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", s.health.LiveEndpoint)
	mux.HandleFunc("/readyz", s.health.ReadyEndpoint)
	mux.Handle("/", api)

	s.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.LogRequests(),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		}),
	)

	s.health.Start(ctx, 10*time.Second)
	s.health.SetReady(true)
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close stops health checks and releases storage and event connections.
func (s *Server) Close() {
	s.health.Stop()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage))

	srv, err := NewServer(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer srv.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
