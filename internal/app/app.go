package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront-payments/internal/config"
	"github.com/utafrali/storefront-payments/internal/event"
	handler "github.com/utafrali/storefront-payments/internal/handler/http"
	"github.com/utafrali/storefront-payments/internal/provider"
	mockprovider "github.com/utafrali/storefront-payments/internal/provider/mock"
	"github.com/utafrali/storefront-payments/internal/provider/square"
	"github.com/utafrali/storefront-payments/internal/repository"
	"github.com/utafrali/storefront-payments/internal/repository/memory"
	"github.com/utafrali/storefront-payments/internal/repository/postgres"
	redisrepo "github.com/utafrali/storefront-payments/internal/repository/redis"
	"github.com/utafrali/storefront-payments/internal/service"
	"github.com/utafrali/storefront-payments/internal/tracker"
	"github.com/utafrali/storefront-payments/internal/webhook"
	"github.com/utafrali/storefront-payments/migrations"
	"github.com/utafrali/storefront-payments/pkg/database"
	"github.com/utafrali/storefront-payments/pkg/health"
	"github.com/utafrali/storefront-payments/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront-payments/pkg/kafka"
	"github.com/utafrali/storefront-payments/pkg/tracing"
)

// ServiceName labels logs, metrics and traces.
const ServiceName = "payments-service"

// Version is stamped at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

// App wires together all dependencies and runs the payments service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	memLog         *memory.EventLog
	producer       *pkgkafka.Producer
	tracerShutdown tracing.Shutdown
	httpServer     *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
// Postgres, Redis and Kafka are optional: without them the ledger and the
// webhook dedupe log run in memory and lifecycle events are not published.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracerShutdown = shutdown

	healthHandler := health.NewHandler()

	store, err := a.openLedger(ctx, healthHandler)
	if err != nil {
		return nil, err
	}
	eventLog, err := a.openEventLog(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	var publisher service.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = event.NewProducer(a.producer, logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Warn("KAFKA_BROKERS not set, lifecycle events disabled")
	}

	prov := a.newProvider()
	failures := tracker.New(cfg.FailureAlertThreshold, logger, prometheus.DefaultRegisterer)
	paymentService := service.NewPaymentService(store, prov, failures, publisher, logger)

	if cfg.WebhookSignatureKey == "" || cfg.WebhookCallbackURL == "" {
		logger.Warn("webhook signature key or callback URL missing, webhooks will be rejected")
	}
	reconciler := webhook.NewReconciler(webhook.Config{
		SignatureKey:    cfg.WebhookSignatureKey,
		CallbackURL:     cfg.WebhookCallbackURL,
		AllowLegacySHA1: cfg.AllowLegacySHA1,
	}, store, paymentService, eventLog, logger, prometheus.DefaultRegisterer)

	router := handler.NewRouter(handler.RouterConfig{
		ServiceName: ServiceName,
		AdminToken:  cfg.AdminToken,
		CORSOrigins: cfg.CORSOrigins,
		PprofCIDRs:  cfg.PprofCIDRs,

		AuthorizeRPS:   cfg.AuthorizeRPS,
		AuthorizeBurst: cfg.AuthorizeBurst,
	}, paymentService, reconciler, healthHandler, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Covers a processor call at its full timeout.
		WriteTimeout: cfg.ProcessorTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ok = true
	return a, nil
}

func (a *App) openLedger(ctx context.Context, hh *health.Handler) (repository.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.logger.Warn("DATABASE_URL not set, using in-memory ledger")
		return memory.NewStore(), nil
	}

	pgCfg := database.DefaultPostgresConfig()
	pgCfg.URL = a.cfg.DatabaseURL
	pgCfg.MaxConns = a.cfg.DBMaxConns

	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL")

	database.SetSlowQueryLogging(a.cfg.SlowQueryLimit, a.logger)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, ServiceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if a.cfg.RunMigrations {
		applied, err := database.RunMigrations(ctx, pool, migrations.FS, a.logger)
		if err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("migrations complete", slog.Int("applied", len(applied)))
	}

	hh.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	return postgres.NewStore(pool), nil
}

func (a *App) openEventLog(ctx context.Context, hh *health.Handler) (repository.EventLog, error) {
	rcfg := database.RedisConfig{URL: a.cfg.RedisURL}
	if !rcfg.Enabled() {
		a.memLog = memory.NewEventLog(a.cfg.EventDedupTTL, time.Minute)
		return a.memLog, nil
	}

	client, err := database.NewRedisClient(ctx, rcfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis")

	hh.RegisterNonCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return redisrepo.NewEventLog(client, a.cfg.EventDedupTTL), nil
}

func (a *App) newProvider() provider.Provider {
	if a.cfg.Provider == config.ProviderMock {
		a.logger.Warn("using mock payment processor")
		return mockprovider.NewProvider()
	}

	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = a.cfg.ProcessorTimeout
	doer := httpclient.NewCircuitBreakerClient(
		httpclient.New(hcfg),
		httpclient.DefaultCircuitBreakerConfig("square"),
		a.logger,
	)
	return square.NewClient(square.Config{
		BaseURL:     a.cfg.SquareBaseURL,
		AccessToken: a.cfg.SquareToken,
		APIVersion:  a.cfg.SquareVersion,
		LocationID:  a.cfg.SquareLocationID,
	}, doer, a.logger)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.closeResources()
		return err
	}

	return a.Shutdown()
}

// Shutdown drains in-flight requests, then closes backing resources.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.closeResources()

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeResources() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.memLog != nil {
		a.memLog.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}
}
