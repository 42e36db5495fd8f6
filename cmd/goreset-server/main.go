// Command goreset-server serves the password reset flow over HTTP.
//
// Backends are chosen from the environment: Redis when REDIS_ADDR is set
// (in-memory otherwise), Postgres accounts when DATABASE_URL is set, and the
// mail transport from MAIL_BACKEND (log, smtp or amqp). A .env file in the
// working directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	goReset "github.com/MrEthical07/goReset"
	"github.com/MrEthical07/goReset/accounts"
	"github.com/MrEthical07/goReset/httpapi"
	"github.com/MrEthical07/goReset/mail"
	"github.com/MrEthical07/goReset/metrics/export/prometheus"
	"github.com/MrEthical07/goReset/password"
	"github.com/MrEthical07/goReset/ratelimit"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *ServerConfig, logger *slog.Logger) error {
	var checks []func(context.Context) error

	builder := goReset.New().
		WithConfig(cfg.EngineConfig()).
		WithLogger(logger)

	if cfg.AuditEnabled {
		builder = builder.WithAuditSink(goReset.NewSlogSink(logger.With("component", "audit")))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		builder = builder.WithRedis(rdb)
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		logger.Info("using redis backends", "addr", cfg.RedisAddr)
	} else {
		logger.Warn("REDIS_ADDR not set; PINs and rate limits are kept in process memory")
	}

	store, pool, err := openAccounts(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		checks = append(checks, pool.Ping)
	}
	builder = builder.WithAccountStore(store)

	mailer, closeMailer, err := openMailer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeMailer()
	builder = builder.WithMailer(mailer)

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	opts := httpapi.Options{
		TrustProxy: cfg.TrustProxy,
		Logger:     logger,
		Limiter:    engine.Limiter(),
		RoutePolicy: ratelimit.Policy{
			Name:   "http",
			Max:    cfg.HTTPRateMax,
			Window: cfg.HTTPRateWindow,
		},
		Health: func(ctx context.Context) error {
			for _, check := range checks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}
	if cfg.MetricsEnabled {
		opts.Metrics = prometheus.NewPrometheusExporter(engine).Handler()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(engine, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// openAccounts returns the Postgres store when DATABASE_URL is set, together with its
// pool, or an in-memory store and a nil pool.
func openAccounts(ctx context.Context, cfg *ServerConfig, logger *slog.Logger) (accounts.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		store := accounts.NewMemoryStore()
		if cfg.DemoAccountEmail != "" {
			hasher, err := password.NewArgon2(password.DefaultConfig())
			if err != nil {
				return nil, nil, err
			}
			hash, err := hasher.Hash(cfg.DemoAccountSecret)
			if err != nil {
				return nil, nil, fmt.Errorf("hash demo password: %w", err)
			}
			store.Put(accounts.Account{ID: "demo", Email: cfg.DemoAccountEmail, PasswordHash: hash})
			logger.Info("seeded demo account", "email", cfg.DemoAccountEmail)
		}
		logger.Warn("DATABASE_URL not set; using in-memory account store")
		return store, nil, nil
	}

	if cfg.MigrateOnStart {
		if err := accounts.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		logger.Info("account migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("database connection established")
	return accounts.NewPostgresStore(pool), pool, nil
}

func openMailer(cfg *ServerConfig, logger *slog.Logger) (mail.Mailer, func(), error) {
	switch cfg.MailBackend {
	case "smtp":
		m, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			MaxConns: cfg.SMTPMaxConns,
			Timeout:  cfg.SMTPTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using smtp mailer", "host", cfg.SMTPHost)
		return m, m.Close, nil
	case "amqp":
		m, err := mail.DialQueueMailer(mail.QueueConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			RoutingKey: cfg.AMQPRoutingKey,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using amqp mailer", "exchange", cfg.AMQPExchange)
		return m, func() { closeQuietly(m, logger) }, nil
	default:
		logger.Warn("MAIL_BACKEND=log; reset codes are written to the log")
		return mail.NewLogMailer(logger), func() {}, nil
	}
}

func closeQuietly(c io.Closer, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "error", err)
	}
}
