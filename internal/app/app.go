// Package app wires the clinicauth-server dependencies and runs it.
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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	clinicAuth "github.com/MrEthical07/clinicAuth"
	accountspg "github.com/MrEthical07/clinicAuth/accounts/postgres"
	"github.com/MrEthical07/clinicAuth/httpapi"
	"github.com/MrEthical07/clinicAuth/internal/config"
	ledgerpg "github.com/MrEthical07/clinicAuth/ledger/postgres"
	"github.com/MrEthical07/clinicAuth/mail"
	"github.com/MrEthical07/clinicAuth/mail/kafka"
	otelexport "github.com/MrEthical07/clinicAuth/metrics/export/otel"
	promexport "github.com/MrEthical07/clinicAuth/metrics/export/prometheus"
)

const purgeInterval = time.Hour

// App owns every long-lived resource of the server.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	redis      *redis.Client
	pool       *pgxpool.Pool
	publisher  *kafka.Publisher
	engine     *clinicAuth.Engine
	otel       *otelexport.Exporter
	httpServer *http.Server
}

// NewApp connects to Redis and PostgreSQL, builds the engine and mounts the
// HTTP surface. Nothing listens until Run.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to redis", slog.String("addr", cfg.Redis.Addr))

	pgCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pgCfg.MaxConns = cfg.Postgres.MaxConns
	a.pool, err = pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := a.pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres", slog.String("database", pgCfg.ConnConfig.Database))

	if cfg.Postgres.Migrate {
		for name, schema := range map[string]string{"accounts": accountspg.Schema, "refresh_tokens": ledgerpg.Schema} {
			if _, err := a.pool.Exec(ctx, schema); err != nil {
				return nil, fmt.Errorf("apply %s schema: %w", name, err)
			}
		}
		logger.Info("database schema applied")
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	builder := clinicAuth.New().
		WithConfig(engineCfg).
		WithRedis(a.redis).
		WithAccountStore(accountspg.NewStore(a.pool)).
		WithMailer(a.buildMailer()).
		WithLogger(logger)
	if cfg.Postgres.DurableLedger {
		builder = builder.WithLedger(ledgerpg.NewStore(a.pool))
	}
	if engineCfg.Audit.Enabled {
		builder = builder.WithAuditSink(clinicAuth.NewSlogSink(logger.With(slog.String("component", "audit"))))
	}
	a.engine, err = builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			promexport.NewCollector(a.engine),
		)
		if cfg.Metrics.OTel {
			a.otel, err = otelexport.NewExporter(otel.Meter("github.com/MrEthical07/clinicAuth"), a.engine)
			if err != nil {
				return nil, fmt.Errorf("register otel metrics: %w", err)
			}
		}
	}

	router, err := httpapi.NewRouter(a.engine, httpapi.Options{
		Logger:   logger,
		Registry: registry,
		Health:   a.healthCheckers(),
		RateLimit: httpapi.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			IdleTTL:           cfg.RateLimit.IdleTTL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	a.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return a, nil
}

// buildMailer publishes to Kafka behind a circuit breaker when brokers are
// configured, falling back to the log mailer while the circuit is open.
func (a *App) buildMailer() clinicAuth.Mailer {
	logMailer := mail.NewLogMailer(a.logger)
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Warn("no kafka brokers configured, notifications are only logged")
		return logMailer
	}

	kcfg := kafka.DefaultConfig(a.cfg.Kafka.Brokers)
	kcfg.Topic = a.cfg.Kafka.Topic
	pub, err := kafka.NewPublisher(kcfg, a.logger)
	if err != nil {
		a.logger.Error("kafka publisher disabled", slog.String("error", err.Error()))
		return logMailer
	}
	a.publisher = pub
	a.logger.Info("kafka publisher initialized",
		slog.Any("brokers", kcfg.Brokers),
		slog.String("topic", kcfg.Topic),
	)

	return mail.NewBreaker(pub, mail.DefaultBreakerConfig("kafka-notifications"), a.logger).
		WithFallback(logMailer)
}

func (a *App) healthCheckers() map[string]httpapi.Checker {
	checks := map[string]httpapi.Checker{
		"redis": func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		},
		"postgres": func(ctx context.Context) error {
			return a.pool.Ping(ctx)
		},
	}
	if a.publisher != nil {
		checks["kafka"] = a.publisher.Ping
	}
	return checks
}

// Run serves HTTP and purges expired refresh tokens until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutdown signal received")
			return a.Shutdown()
		case err := <-errCh:
			_ = a.Shutdown()
			return err
		case <-ticker.C:
			a.purge(ctx)
		}
	}
}

func (a *App) purge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := a.engine.PurgeExpiredRefreshTokens(ctx)
	if err != nil {
		a.logger.Warn("refresh token purge failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		a.logger.Info("purged expired refresh tokens", slog.Int("count", n))
	}
}

// Shutdown drains HTTP first, then flushes the engine's audit queue, then
// closes the publisher and the stores.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	if a.otel != nil {
		if err := a.otel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("otel exporter: %w", err))
		}
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("kafka publisher close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
