package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmoralesdev/ledgerflow-backend/api/controllers"
	billingcontrollers "github.com/rmoralesdev/ledgerflow-backend/api/controllers/billing"
	refundcontrollers "github.com/rmoralesdev/ledgerflow-backend/api/controllers/refunds"
	webhookcontrollers "github.com/rmoralesdev/ledgerflow-backend/api/controllers/webhooks"
	"github.com/rmoralesdev/ledgerflow-backend/api/middleware"
	"github.com/rmoralesdev/ledgerflow-backend/internal/ratelimit"
	"github.com/rmoralesdev/ledgerflow-backend/internal/reconcile"
	"github.com/rmoralesdev/ledgerflow-backend/internal/refunds"
	"github.com/rmoralesdev/ledgerflow-backend/internal/workspaces"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/config"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/redis"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/stripe"
)

// RouterParams bundles everything the HTTP surface needs.
type RouterParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DBPinger         controllers.Pinger
	RedisClient      *redis.Client
	Limiter          *ratelimit.Service
	WorkspaceService *workspaces.Service
	ReconcileService *reconcile.Service
	RefundsService   *refunds.Service
	StripeClient     *stripe.Client
	WebhookGuard     *reconcile.IdempotencyGuard
	MetricsGatherer  prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	refundApprovePolicy := ratelimit.NewPolicy(
		"refund_approve",
		cfg.RateLimit.RefundApproveWindow,
		cfg.RateLimit.RefundApproveIPLimit,
		cfg.RateLimit.RefundApproveUserLimit,
	)
	reconcilePolicy := ratelimit.NewPolicy(
		"manual_reconcile",
		cfg.RateLimit.ReconcileWindow,
		cfg.RateLimit.ReconcileIPLimit,
		cfg.RateLimit.ReconcileUserLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DBPinger, p.RedisClient))
	})

	if p.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.ReconcileService, p.StripeClient, p.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/workspaces/{workspaceId}/billing", billingcontrollers.WorkspaceBilling(p.WorkspaceService, logg))

		r.With(middleware.RateLimit(reconcilePolicy, p.Limiter, logg)).
			Post("/billing/reconcile", billingcontrollers.Reconcile(p.ReconcileService, logg))

		r.Route("/refund-requests", func(r chi.Router) {
			r.Post("/", refundcontrollers.Create(p.RefundsService, logg))
			r.Get("/", refundcontrollers.List(p.RefundsService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireElevated(logg))
				// Approval throttling runs before the service so the overflow
				// request is rejected ahead of any provider call.
				r.With(middleware.RateLimit(refundApprovePolicy, p.Limiter, logg)).
					Post("/{requestId}/approve", refundcontrollers.Approve(p.RefundsService, logg))
				r.Post("/{requestId}/decline", refundcontrollers.Decline(p.RefundsService, logg))
			})
		})
	})

	return r
}
