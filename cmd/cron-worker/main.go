package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payment-ledger/internal/cron"
	"github.com/angelmondragon/payment-ledger/internal/notifications"
	"github.com/angelmondragon/payment-ledger/internal/payments"
	"github.com/angelmondragon/payment-ledger/pkg/config"
	"github.com/angelmondragon/payment-ledger/pkg/db"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
	"github.com/angelmondragon/payment-ledger/pkg/metrics"
	"github.com/angelmondragon/payment-ledger/pkg/migrate"
	"github.com/angelmondragon/payment-ledger/pkg/outbox"
	"github.com/angelmondragon/payment-ledger/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	boot := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		boot.Error(context.Background(), "cron worker exited", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(logg, "db.close_failed", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(logg, "redis.close_failed", redisClient.Close)

	registry, err := buildJobs(cfg, logg, dbClient)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, cron.LockName, cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "cron.worker_starting")

	go func() {
		if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics.listener_failed", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron.worker_stopped")
	return nil
}

// buildJobs wires the overdue sweep and outbox retention jobs.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	outboxRepo := outbox.NewRepository(dbClient.DB())
	notifier, err := notifications.NewNotifier(outbox.NewService(outboxRepo, logg))
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:               payments.NewRepository(dbClient.DB()),
		Tx:                 dbClient,
		Notifier:           notifier,
		Ledger:             cfg.Ledger,
		PersistLazyOverdue: cfg.FeatureFlags.PersistLazyOverdue,
		Logger:             logg,
		Metrics:            metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	overdueJob, err := cron.NewOverdueSweepJob(cron.OverdueSweepJobParams{
		Logger:   logg,
		Payments: paymentService,
	})
	if err != nil {
		return nil, fmt.Errorf("overdue sweep job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outboxRepo,
		Retention:        cfg.Cron.OutboxRetention,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
		DLQ:              outbox.NewDLQRepository(dbClient.DB()),
		Backlog:          outboxRepo,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	return cron.NewRegistry(overdueJob, retentionJob)
}

func closeWith(logg *logger.Logger, msg string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), msg, err)
	}
}
