package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmoralesdev/ledgerflow-backend/api/routes"
	"github.com/rmoralesdev/ledgerflow-backend/internal/ratelimit"
	"github.com/rmoralesdev/ledgerflow-backend/internal/reconcile"
	"github.com/rmoralesdev/ledgerflow-backend/internal/refunds"
	"github.com/rmoralesdev/ledgerflow-backend/internal/workspaces"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/config"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/db"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/metrics"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/migrate"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/redis"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	rateLimitMetrics := metrics.NewRateLimitMetrics(registry)
	reconcileMetrics := metrics.NewReconcileMetrics(registry)

	limiter, err := ratelimit.NewService(ratelimit.ServiceParams{
		Repo:       ratelimit.NewRepository(dbClient.DB()),
		Logger:     logg,
		Metrics:    rateLimitMetrics,
		ReportOnly: cfg.RateLimit.ReportOnly,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create rate limiter", err)
		os.Exit(1)
	}

	workspaceRepo := workspaces.NewRepository(dbClient.DB())
	resolver, err := workspaces.NewResolver(workspaces.ResolverParams{
		Repo:             workspaceRepo,
		ConnectActionURL: cfg.Billing.ConnectActionURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing resolver", err)
		os.Exit(1)
	}

	workspaceService, err := workspaces.NewService(workspaces.ServiceParams{
		Repo:             workspaceRepo,
		Logger:           logg,
		UpgradeActionURL: cfg.Billing.UpgradeActionURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create workspace service", err)
		os.Exit(1)
	}

	reconcileService, err := reconcile.NewService(reconcile.ServiceParams{
		Repo:         reconcile.NewRepository(dbClient.DB()),
		Provider:     reconcile.NewProviderClient(stripeClient),
		TxRunner:     dbClient,
		Logger:       logg,
		Metrics:      reconcileMetrics,
		PricePlanMap: cfg.Billing.PricePlanMap,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	webhookGuard, err := reconcile.NewIdempotencyGuard(redisClient, cfg.Billing.WebhookGuardTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	refundsService, err := refunds.NewService(refunds.ServiceParams{
		Repo:     refunds.NewRepository(dbClient.DB()),
		Resolver: resolver,
		Payments: refunds.NewPaymentClient(stripeClient),
		TxRunner: dbClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
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
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:           cfg,
			Logger:           logg,
			DBPinger:         dbClient,
			RedisClient:      redisClient,
			Limiter:          limiter,
			WorkspaceService: workspaceService,
			ReconcileService: reconcileService,
			RefundsService:   refundsService,
			StripeClient:     stripeClient,
			WebhookGuard:     webhookGuard,
			MetricsGatherer:  registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
