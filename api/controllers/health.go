package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/rmoralesdev/ledgerflow-backend/api/responses"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/config"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LedgerFlow-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the backing stores so orchestration only routes traffic
// once the limiter counters and billing rows are reachable.
func HealthReady(cfg *config.Config, logg *logger.Logger, database Pinger, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LedgerFlow-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if database != nil {
			if err := database.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
				return
			}
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cache unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
