package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/payment-ledger/api/routes"
	"github.com/angelmondragon/payment-ledger/internal/notifications"
	"github.com/angelmondragon/payment-ledger/internal/payments"
	"github.com/angelmondragon/payment-ledger/internal/refunds"
	stripewebhook "github.com/angelmondragon/payment-ledger/internal/webhooks/stripe"
	"github.com/angelmondragon/payment-ledger/pkg/config"
	"github.com/angelmondragon/payment-ledger/pkg/db"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
	"github.com/angelmondragon/payment-ledger/pkg/metrics"
	"github.com/angelmondragon/payment-ledger/pkg/migrate"
	"github.com/angelmondragon/payment-ledger/pkg/outbox"
	"github.com/angelmondragon/payment-ledger/pkg/redis"
	pkgstripe "github.com/angelmondragon/payment-ledger/pkg/stripe"
)

const (
	serviceKind       = "api"
	shutdownTimeout   = 15 * time.Second
	webhookGuardScope = "stripe-webhook"
	readHeaderTimeout = 10 * time.Second
)

func main() {
	boot := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		boot.Error(context.Background(), "api server exited", err)
		os.Exit(1)
	}
}

func run(sigCtx context.Context) error {
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

	dbClient, err := db.New(sigCtx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(logg, "db.close_failed", dbClient.Close)

	if err := migrate.MaybeRunDev(sigCtx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(sigCtx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(logg, "redis.close_failed", redisClient.Close)

	stripeClient, err := pkgstripe.NewClient(sigCtx, cfg.Stripe, logg)
	if err != nil {
		return fmt.Errorf("bootstrap stripe: %w", err)
	}

	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	params, err := buildRouter(cfg, logg, dbClient, redisClient, stripeClient, gatherer)
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
		Handler:           routes.NewRouter(params),
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "api.server_starting")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api.shutdown_signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api.shutdown_failed", err)
		}
	}

	logg.Info(ctx, "api.server_stopped")
	return nil
}

// buildRouter assembles the payment, refund and webhook services behind the router.
func buildRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	stripeClient *pkgstripe.Client,
	gatherer *prometheus.Registry,
) (routes.RouterParams, error) {
	refundClient, err := pkgstripe.NewRefundClient(stripeClient)
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("stripe refund client: %w", err)
	}
	ledgerMetrics := metrics.NewLedgerMetrics(gatherer)

	notifier, err := notifications.NewNotifier(outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("notifier: %w", err)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:               payments.NewRepository(dbClient.DB()),
		Tx:                 dbClient,
		Notifier:           notifier,
		Ledger:             cfg.Ledger,
		PersistLazyOverdue: cfg.FeatureFlags.PersistLazyOverdue,
		Logger:             logg,
		Metrics:            ledgerMetrics,
	})
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("payments service: %w", err)
	}

	refundService, err := refunds.NewService(refunds.ServiceParams{
		Repo:             refunds.NewRepository(dbClient.DB()),
		Tx:               dbClient,
		Notifier:         notifier,
		Processor:        refundClient,
		MessageMaxLength: cfg.Ledger.RefundMessageMaxLength,
		ClaimTTL:         cfg.Ledger.RefundClaimTTL,
		MaxRetries:       cfg.Stripe.MaxRetries,
		RetryBackoff:     cfg.Stripe.RetryBackoff,
		Logger:           logg,
		Metrics:          ledgerMetrics,
	})
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("refunds service: %w", err)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Refunds: refundService,
		Logger:  logg,
		Metrics: ledgerMetrics,
	})
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("stripe webhook service: %w", err)
	}
	guard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, webhookGuardScope+":"+stripeClient.Environment())
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("webhook idempotency guard: %w", err)
	}

	return routes.RouterParams{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Redis:          redisClient,
		Gatherer:       gatherer,
		HTTPMetrics:    metrics.NewHTTPMetrics(gatherer),
		Payments:       paymentService,
		Refunds:        refundService,
		Stripe:         stripeClient,
		StripeWebhooks: webhookService,
		WebhookGuard:   guard,
	}, nil
}

func closeWith(logg *logger.Logger, msg string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), msg, err)
	}
}
