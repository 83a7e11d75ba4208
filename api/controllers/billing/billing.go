package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmoralesdev/ledgerflow-backend/api/middleware"
	"github.com/rmoralesdev/ledgerflow-backend/api/responses"
	"github.com/rmoralesdev/ledgerflow-backend/api/validators"
	"github.com/rmoralesdev/ledgerflow-backend/internal/reconcile"
	"github.com/rmoralesdev/ledgerflow-backend/internal/workspaces"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
)

// WorkspaceBilling returns the billing view for a workspace.
func WorkspaceBilling(svc *workspaces.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		workspaceID, err := uuid.Parse(chi.URLParam(r, "workspaceId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid workspace id"))
			return
		}

		view, err := svc.GetBilling(ctx, workspaceID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// Reconcile triggers a manual pull of provider state after checkout return.
func Reconcile(svc *reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var params reconcile.ManualReconcileParams
		if err := validators.DecodeJSONBody(r, &params); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.ManualReconcile(ctx, actor, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
