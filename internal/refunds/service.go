package refunds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmoralesdev/ledgerflow-backend/internal/workspaces"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/auth"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/db/models"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams holds the dependencies for the refund approval service.
type ServiceParams struct {
	Repo     Repository
	Resolver *workspaces.Resolver
	Payments PaymentClient
	TxRunner txRunner
	Logger   *logger.Logger
}

// Service drives the refund request state machine. At-most-one provider
// refund per request is guaranteed by the deterministic idempotency key on
// the external call plus the pending-guarded status transition locally.
type Service struct {
	repo     Repository
	resolver *workspaces.Resolver
	payments PaymentClient
	txRunner txRunner
	logger   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if params.TxRunner == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		repo:     params.Repo,
		resolver: params.Resolver,
		payments: params.Payments,
		txRunner: params.TxRunner,
		logger:   params.Logger,
	}, nil
}

// IdempotencyKey derives the provider idempotency key for a request. The key
// is a pure function of the request id so every retry of the same approval
// collapses into one provider refund.
func IdempotencyKey(requestID uuid.UUID) string {
	return fmt.Sprintf("refund_request_%s", requestID)
}

// CreateRequestInput is the payload for opening a refund request.
type CreateRequestInput struct {
	InvoiceID uuid.UUID `json:"invoiceId" validate:"required"`
	Reason    *string   `json:"reason" validate:"omitempty,max=2000"`
}

// Create opens a pending refund request against an invoice. The request's
// workspace is copied from the invoice here and never reassigned afterwards.
func (s *Service) Create(ctx context.Context, actor auth.Actor, input CreateRequestInput) (*models.RefundRequest, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, input.InvoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if invoice.WorkspaceID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvoiceWorkspaceMissing, "invoice has no owning workspace")
	}
	if !invoice.Status.IsRefundable() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "invoice is not in a refundable state").
			WithDetails(map[string]any{"status": invoice.Status.String()})
	}

	request := &models.RefundRequest{
		WorkspaceID: *invoice.WorkspaceID,
		InvoiceID:   invoice.ID,
		Status:      enums.RefundRequestStatusPending,
		Reason:      input.Reason,
		RequestedBy: actor.UserID,
	}
	if err := s.repo.CreateRequest(ctx, request); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create refund request")
	}

	ctx = s.logger.WithWorkspaceID(ctx, request.WorkspaceID.String())
	s.logger.Info(ctx, "refunds.request_created")
	return request, nil
}

// ApprovalResult reports the outcome of an approval.
type ApprovalResult struct {
	OK              bool   `json:"ok"`
	StripeRefundID  string `json:"stripeRefundId,omitempty"`
	AlreadyRefunded bool   `json:"alreadyRefunded,omitempty"`
}

// Approve executes the full approval flow: verify the request is pending and
// the invoice refundable, resolve the owning workspace's merchant account,
// issue the idempotent provider refund, classify partial vs full from the
// fresh charge snapshot, then commit the guarded state transition.
func (s *Service) Approve(ctx context.Context, actor auth.Actor, requestID uuid.UUID) (*ApprovalResult, error) {
	if !actor.Role.IsElevated() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "refund approval requires an elevated role")
	}
	if s.payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment provider is not configured")
	}

	request, invoice, err := s.loadPendingRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"refund_request_id": requestID.String(),
		"workspace_id":      request.WorkspaceID.String(),
	})
	ctx = s.logger.WithInvoiceID(ctx, invoice.ID.String())

	if !invoice.Status.IsRefundable() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "invoice is not in a refundable state").
			WithDetails(map[string]any{"status": invoice.Status.String()})
	}

	// Attribution always follows the invoice's workspace. A mismatch with the
	// stored request workspace means the records disagree and the request is
	// treated as missing rather than processed against the wrong account.
	attribution, err := s.resolver.ResolveForInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	if attribution.WorkspaceID != request.WorkspaceID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
	}

	if invoice.StripePaymentIntentID == nil || *invoice.StripePaymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "invoice has no payment to refund")
	}

	intent, err := s.payments.GetPaymentIntent(ctx, *invoice.StripePaymentIntentID, attribution.MerchantAccountID)
	if err != nil {
		if isPermissionDenied(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeProviderPermission, err, "provider rejected merchant account access")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}
	if intent == nil || intent.LatestCharge == nil || intent.LatestCharge.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment intent has no charge")
	}
	chargeID := intent.LatestCharge.ID

	alreadyRefunded := false
	var refundID string
	providerRefund, err := s.payments.CreateRefund(ctx, RefundCall{
		ChargeID:          chargeID,
		MerchantAccountID: attribution.MerchantAccountID,
		IdempotencyKey:    IdempotencyKey(request.ID),
	})
	switch {
	case err == nil:
		if providerRefund != nil {
			refundID = providerRefund.ID
		}
	case isAlreadyRefunded(err):
		// Idempotent replay: the provider already holds a refund for this
		// charge. The fresh snapshot below recovers the refund handle.
		alreadyRefunded = true
	case isPermissionDenied(err):
		return nil, pkgerrors.Wrap(pkgerrors.CodeProviderPermission, err, "provider rejected refund call")
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create provider refund")
	}

	freshCharge, err := s.payments.GetCharge(ctx, chargeID, attribution.MerchantAccountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load charge snapshot")
	}
	snapshot, err := BuildChargeSnapshot(freshCharge)
	if err != nil {
		return nil, err
	}
	if refundID == "" {
		refundID = snapshot.LatestRefundID
	}

	newStatus := classifyInvoiceStatus(invoice.Status, snapshot)

	now := time.Now().UTC()
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var refundHandle *string
		if refundID != "" {
			refundHandle = &refundID
		}
		updated, err := repo.MarkResolved(ctx, request.ID, enums.RefundRequestStatusApproved, actor.UserID, refundHandle, now)
		if err != nil {
			return fmt.Errorf("mark request approved: %w", err)
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeAlreadyResolved, "refund request is no longer pending")
		}
		if err := repo.UpdateInvoiceRefund(ctx, invoice.ID, newStatus, now); err != nil {
			return fmt.Errorf("update invoice refund status: %w", err)
		}
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeAlreadyResolved {
			return nil, typed
		}
		s.logger.Error(ctx, "refunds.approve_commit_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit refund approval")
	}

	s.logger.Info(ctx, "refunds.request_approved")
	return &ApprovalResult{
		OK:              true,
		StripeRefundID:  refundID,
		AlreadyRefunded: alreadyRefunded,
	}, nil
}

// Decline resolves a pending request without touching the provider.
func (s *Service) Decline(ctx context.Context, actor auth.Actor, requestID uuid.UUID) (*models.RefundRequest, error) {
	if !actor.Role.IsElevated() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "refund decline requires an elevated role")
	}

	request, _, err := s.loadPendingRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updated, err := s.repo.MarkResolved(ctx, request.ID, enums.RefundRequestStatusDeclined, actor.UserID, nil, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark request declined")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyResolved, "refund request is no longer pending")
	}

	request.Status = enums.RefundRequestStatusDeclined
	request.ResolvedBy = &actor.UserID
	request.ResolvedAt = &now

	ctx = s.logger.WithWorkspaceID(ctx, request.WorkspaceID.String())
	s.logger.Info(ctx, "refunds.request_declined")
	return request, nil
}

// ListResult is one page of refund requests plus the continuation cursor.
type ListResult struct {
	Requests   []models.RefundRequest
	NextCursor string
}

// List returns refund requests for a workspace, newest first.
func (s *Service) List(ctx context.Context, workspaceID uuid.UUID, params pagination.Params) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	requests, err := s.repo.ListRequestsByWorkspace(ctx, workspaceID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list refund requests")
	}

	result := &ListResult{Requests: requests}
	if len(requests) > limit {
		result.Requests = requests[:limit]
		last := result.Requests[limit-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return result, nil
}

// loadPendingRequest loads the request and its invoice, rejecting resolved
// requests distinctly from missing ones.
func (s *Service) loadPendingRequest(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, *models.Invoice, error) {
	request, err := s.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund request")
	}
	if request == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
	}
	if request.Status.IsResolved() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeAlreadyResolved, "refund request is already resolved").
			WithDetails(map[string]any{"status": request.Status.String()})
	}

	invoice, err := s.repo.FindInvoiceByID(ctx, request.InvoiceID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return request, invoice, nil
}

// classifyInvoiceStatus applies the monotonic refund rule: refunded never
// reverts, a fully refunded snapshot promotes to refunded, anything else is
// partial.
func classifyInvoiceStatus(current enums.InvoiceStatus, snapshot ChargeRefundSnapshot) enums.InvoiceStatus {
	if current == enums.InvoiceStatusRefunded {
		return enums.InvoiceStatusRefunded
	}
	if snapshot.FullyRefunded() {
		return enums.InvoiceStatusRefunded
	}
	return enums.InvoiceStatusPartiallyRefunded
}
