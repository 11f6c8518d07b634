package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"idsync/internal/platform/config"
	"idsync/internal/platform/database"
	"idsync/internal/platform/health"
	"idsync/internal/platform/kafka/producer"
	"idsync/internal/platform/logger"
	"idsync/internal/platform/middleware"
	platformredis "idsync/internal/platform/redis"
	"idsync/internal/webhook/handler"
	"idsync/internal/webhook/metrics"
	"idsync/internal/webhook/models"
	"idsync/internal/webhook/notify"
	"idsync/internal/webhook/service"
	ledgerstore "idsync/internal/webhook/store/ledger"
	"idsync/internal/webhook/workers/retention"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal/webhook packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log.Info("initializing idsync",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
	)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database initialization failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close() //nolint:errcheck // shutdown path

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis initialization failed", "error", err)
		os.Exit(1)
	}

	txRunner := newWebhookPostgresTx(pool.DB())
	retentionStore := retention.LedgerStore(ledgerstore.NewPostgres(pool.DB()))
	if redisClient != nil {
		redisLedger := ledgerstore.NewRedis(redisClient, cfg.LedgerRetention)
		txRunner = txRunner.WithLedger(redisLedger)
		retentionStore = redisLedger
		log.Info("using redis idempotency ledger", "retention", cfg.LedgerRetention)
	}

	notifier, closeNotifier := buildNotifier(cfg, log)
	defer closeNotifier()

	svc := service.New(txRunner,
		map[models.Provider]string{
			models.ProviderClerk: cfg.ClerkWebhookSecret,
			models.ProviderAuth0: cfg.Auth0WebhookSecret,
		},
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
		service.WithNotifier(notifier),
	)

	healthHandler := health.New(cfg.Environment)
	healthHandler.RegisterCheck("database", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Health(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	handler.New(svc, log).Register(r)
	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := retention.New(retentionStore, cfg.LedgerRetention,
		retention.WithLogger(log),
		retention.WithInterval(cfg.SweepInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("retention sweeper: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// buildNotifier returns the Kafka notifier when brokers are configured and a
// no-op otherwise. The returned close function flushes buffered notifications.
func buildNotifier(cfg config.Server, log *slog.Logger) (notify.Notifier, func()) {
	if cfg.Kafka.Brokers == "" {
		return notify.Noop{}, func() {}
	}

	p, err := producer.New(producer.Config{
		Brokers:         cfg.Kafka.Brokers,
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, log)
	if err != nil {
		log.Error("kafka producer initialization failed", "error", err)
		os.Exit(1)
	}

	kn := notify.NewKafka(p, cfg.Kafka.Topic, log, 256)
	return kn, func() {
		kn.Close()
		_ = p.Close() //nolint:errcheck // shutdown path
	}
}
