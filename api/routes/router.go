package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payment-ledger/api/controllers"
	webhookcontrollers "github.com/angelmondragon/payment-ledger/api/controllers/webhooks"
	"github.com/angelmondragon/payment-ledger/api/middleware"
	"github.com/angelmondragon/payment-ledger/pkg/config"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
	"github.com/angelmondragon/payment-ledger/pkg/metrics"
	pkgredis "github.com/angelmondragon/payment-ledger/pkg/redis"
)

type redisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

type requestMetrics interface {
	ObserveRequest(route, method string, status int, duration time.Duration)
}

type paymentService interface {
	controllers.PaymentService
	controllers.AdminPaymentService
}

type refundService interface {
	controllers.RefundService
	controllers.AdminRefundService
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type signingSecretSource interface {
	SigningSecret() string
}

// RouterParams lists everything the HTTP surface depends on. Redis, DB and
// metrics may be nil in tests; the related middleware then passes through.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Redis          redisStore
	Gatherer       prometheus.Gatherer
	HTTPMetrics    requestMetrics
	Payments       paymentService
	Refunds        refundService
	Stripe         signingSecretSource
	StripeWebhooks webhookcontrollers.StripeWebhookService
	WebhookGuard   webhookGuard
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)
	if p.HTTPMetrics != nil {
		r.Use(middleware.Metrics(p.HTTPMetrics))
	}

	readiness := map[string]controllers.Pinger{}
	if p.DB != nil {
		readiness["database"] = p.DB
	}
	var idempotencyStore pkgredis.IdempotencyStore
	var limiter middleware.RateLimiterStore
	if p.Redis != nil {
		readiness["redis"] = p.Redis
		idempotencyStore = p.Redis
		limiter = p.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(p.Gatherer))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhooks, p.Stripe, p.WebhookGuard, logg))
	})

	refundCreatePolicy := middleware.NewRateLimitPolicy(
		"refund-create",
		cfg.RateLimit.RefundCreateWindow,
		cfg.RateLimit.RefundCreateLimit,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleUser))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", controllers.PaymentCreate(p.Payments, logg))
			r.Get("/pending", controllers.PaymentListPending(p.Payments, logg))
			r.Get("/pending/total", controllers.PaymentPendingTotal(p.Payments, logg))
			r.Get("/next-due", controllers.PaymentNextDue(p.Payments, logg))
			r.Get("/{paymentId}", controllers.PaymentGet(p.Payments, logg))
		})
		r.Route("/refunds", func(r chi.Router) {
			r.With(middleware.UserRateLimit(refundCreatePolicy, limiter, logg)).Post("/", controllers.RefundCreate(p.Refunds, logg))
			r.Get("/", controllers.RefundListMine(p.Refunds, logg))
			r.Get("/{refundId}", controllers.RefundGet(p.Refunds, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Get("/pending", controllers.AdminPaymentsPending(p.Payments, logg))
			r.Get("/stats", controllers.AdminPaymentStats(p.Payments, logg))
			r.Post("/sweep-overdue", controllers.AdminSweepOverdue(p.Payments, logg))
			r.Patch("/{paymentId}/status", controllers.AdminPaymentUpdateStatus(p.Payments, logg))
			r.Patch("/{paymentId}/installments/{number}", controllers.AdminPaymentUpdateInstallment(p.Payments, logg))
		})
		r.Route("/refunds", func(r chi.Router) {
			r.Get("/pending", controllers.AdminRefundsPending(p.Refunds, logg))
			r.Get("/", controllers.AdminRefundsByStatus(p.Refunds, logg))
			r.Get("/stats", controllers.AdminRefundStats(p.Refunds, logg))
			r.Get("/{refundId}", controllers.AdminRefundGet(p.Refunds, logg))
			r.Get("/{refundId}/history", controllers.AdminRefundHistory(p.Refunds, logg))
			r.Post("/{refundId}/review", controllers.AdminRefundReview(p.Refunds, logg))
			r.Post("/{refundId}/process", controllers.AdminRefundProcess(p.Refunds, logg))
		})
	})

	return r
}
