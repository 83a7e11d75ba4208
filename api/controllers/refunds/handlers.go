package refunds

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmoralesdev/ledgerflow-backend/api/middleware"
	"github.com/rmoralesdev/ledgerflow-backend/api/responses"
	"github.com/rmoralesdev/ledgerflow-backend/api/validators"
	refundsvc "github.com/rmoralesdev/ledgerflow-backend/internal/refunds"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/db/models"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/pagination"
)

type refundRequestView struct {
	ID             string     `json:"id"`
	WorkspaceID    string     `json:"workspaceId"`
	InvoiceID      string     `json:"invoiceId"`
	Status         string     `json:"status"`
	Reason         *string    `json:"reason,omitempty"`
	RequestedBy    string     `json:"requestedBy"`
	ResolvedBy     *string    `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	StripeRefundID *string    `json:"stripeRefundId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type listResponse struct {
	Requests []refundRequestView `json:"requests"`
	Cursor   string              `json:"cursor"`
}

func toView(request models.RefundRequest) refundRequestView {
	view := refundRequestView{
		ID:             request.ID.String(),
		WorkspaceID:    request.WorkspaceID.String(),
		InvoiceID:      request.InvoiceID.String(),
		Status:         request.Status.String(),
		Reason:         request.Reason,
		RequestedBy:    request.RequestedBy.String(),
		ResolvedAt:     request.ResolvedAt,
		StripeRefundID: request.StripeRefundID,
		CreatedAt:      request.CreatedAt,
	}
	if request.ResolvedBy != nil {
		resolved := request.ResolvedBy.String()
		view.ResolvedBy = &resolved
	}
	return view
}

// Create opens a pending refund request against an invoice.
func Create(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var input refundsvc.CreateRequestInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		request, err := svc.Create(ctx, actor, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toView(*request))
	}
}

// Approve resolves a pending request and issues the provider refund.
func Approve(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		requestID, err := uuid.Parse(chi.URLParam(r, "requestId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request id"))
			return
		}

		result, err := svc.Approve(ctx, actor, requestID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Decline resolves a pending request without a provider call.
func Decline(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		requestID, err := uuid.Parse(chi.URLParam(r, "requestId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request id"))
			return
		}

		request, err := svc.Decline(ctx, actor, requestID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toView(*request))
	}
}

// List returns refund requests for the actor's active workspace.
func List(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		workspaceID, err := uuid.Parse(middleware.WorkspaceIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "active workspace required"))
			return
		}

		query := r.URL.Query()
		params := pagination.Params{Cursor: query.Get("cursor")}
		if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid limit"))
				return
			}
			params.Limit = limit
		}

		result, err := svc.List(ctx, workspaceID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := listResponse{
			Requests: make([]refundRequestView, 0, len(result.Requests)),
			Cursor:   result.NextCursor,
		}
		for _, request := range result.Requests {
			payload.Requests = append(payload.Requests, toView(request))
		}
		responses.WriteSuccess(w, payload)
	}
}
