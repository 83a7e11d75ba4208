package refunds

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/rmoralesdev/ledgerflow-backend/internal/workspaces"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/auth"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/db/models"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/pagination"
)

type stubRepo struct {
	request *models.RefundRequest
	invoice *models.Invoice

	markResolvedBlocked bool
	listRows            []models.RefundRequest
	listLimit           int

	markedStatus   enums.RefundRequestStatus
	markedRefundID *string
	invoiceStatus  enums.InvoiceStatus
	invoiceUpdated bool
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) CreateRequest(ctx context.Context, request *models.RefundRequest) error {
	s.request = request
	return nil
}

func (s *stubRepo) FindRequestByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	return s.request, nil
}

func (s *stubRepo) FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.invoice, nil
}

func (s *stubRepo) ListRequestsByWorkspace(ctx context.Context, workspaceID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.RefundRequest, error) {
	s.listLimit = limit
	if limit < len(s.listRows) {
		return s.listRows[:limit], nil
	}
	return s.listRows, nil
}

func (s *stubRepo) MarkResolved(ctx context.Context, id uuid.UUID, status enums.RefundRequestStatus, resolvedBy uuid.UUID, refundID *string, resolvedAt time.Time) (bool, error) {
	if s.markResolvedBlocked {
		return false, nil
	}
	s.markedStatus = status
	s.markedRefundID = refundID
	return true, nil
}

func (s *stubRepo) UpdateInvoiceRefund(ctx context.Context, invoiceID uuid.UUID, status enums.InvoiceStatus, refundedAt time.Time) error {
	s.invoiceStatus = status
	s.invoiceUpdated = true
	return nil
}

type stubWorkspaceRepo struct {
	invoice   *models.Invoice
	workspace *models.Workspace
	owner     *models.User
	billing   *models.WorkspaceBilling
}

func (s *stubWorkspaceRepo) WithTx(tx *gorm.DB) workspaces.Repository { return s }
func (s *stubWorkspaceRepo) FindWorkspaceByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	return s.workspace, nil
}
func (s *stubWorkspaceRepo) FindOwner(ctx context.Context, workspaceID uuid.UUID) (*models.User, error) {
	return s.owner, nil
}
func (s *stubWorkspaceRepo) FindBillingByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.WorkspaceBilling, error) {
	return s.billing, nil
}
func (s *stubWorkspaceRepo) FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.invoice, nil
}

type stubPayments struct {
	intent    *stripe.PaymentIntent
	charge    *stripe.Charge
	refund    *stripe.Refund
	refundErr error

	refundCalls []RefundCall
}

func (s *stubPayments) GetPaymentIntent(ctx context.Context, id, merchantAccountID string) (*stripe.PaymentIntent, error) {
	return s.intent, nil
}

func (s *stubPayments) GetCharge(ctx context.Context, id, merchantAccountID string) (*stripe.Charge, error) {
	return s.charge, nil
}

func (s *stubPayments) CreateRefund(ctx context.Context, call RefundCall) (*stripe.Refund, error) {
	s.refundCalls = append(s.refundCalls, call)
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	return s.refund, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func strPtr(s string) *string { return &s }

type approveFixture struct {
	workspaceID uuid.UUID
	invoiceID   uuid.UUID
	requestID   uuid.UUID
	repo        *stubRepo
	payments    *stubPayments
	svc         *Service
}

// newApproveFixture wires a pending request over a paid invoice whose
// workspace owner has a connected merchant account.
func newApproveFixture(t *testing.T) *approveFixture {
	t.Helper()

	workspaceID := uuid.New()
	invoiceID := uuid.New()
	requestID := uuid.New()

	invoice := &models.Invoice{
		ID:                    invoiceID,
		WorkspaceID:           &workspaceID,
		AmountCents:           15000,
		Status:                enums.InvoiceStatusPaid,
		StripePaymentIntentID: strPtr("pi_1"),
	}

	repo := &stubRepo{
		invoice: invoice,
		request: &models.RefundRequest{
			ID:          requestID,
			WorkspaceID: workspaceID,
			InvoiceID:   invoiceID,
			Status:      enums.RefundRequestStatusPending,
		},
	}

	resolver, err := workspaces.NewResolver(workspaces.ResolverParams{
		Repo: &stubWorkspaceRepo{
			invoice:   invoice,
			workspace: &models.Workspace{ID: workspaceID},
			owner:     &models.User{ID: uuid.New(), StripeAccountID: strPtr("acct_123")},
		},
		ConnectActionURL: "/settings/payments",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payments := &stubPayments{
		intent: &stripe.PaymentIntent{ID: "pi_1", LatestCharge: &stripe.Charge{ID: "ch_1"}},
		charge: &stripe.Charge{ID: "ch_1", Amount: 15000, AmountRefunded: 15000},
		refund: &stripe.Refund{ID: "re_1"},
	}

	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Resolver: resolver,
		Payments: payments,
		TxRunner: stubTxRunner{},
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return &approveFixture{
		workspaceID: workspaceID,
		invoiceID:   invoiceID,
		requestID:   requestID,
		repo:        repo,
		payments:    payments,
		svc:         svc,
	}
}

func elevatedActor() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Role: enums.MemberRoleAdmin}
}

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	id := uuid.MustParse("6a3bb0f0-93a1-4f0b-9a38-0c9f3a8e2f11")
	want := "refund_request_6a3bb0f0-93a1-4f0b-9a38-0c9f3a8e2f11"
	if got := IdempotencyKey(id); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCreateCopiesWorkspaceFromInvoice(t *testing.T) {
	f := newApproveFixture(t)
	f.repo.request = nil
	actor := auth.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember}

	request, err := f.svc.Create(context.Background(), actor, CreateRequestInput{InvoiceID: f.invoiceID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.WorkspaceID != f.workspaceID {
		t.Fatalf("workspace must come from the invoice, got %s", request.WorkspaceID)
	}
	if request.Status != enums.RefundRequestStatusPending {
		t.Fatalf("expected pending, got %q", request.Status)
	}
	if request.RequestedBy != actor.UserID {
		t.Fatalf("requester not recorded")
	}
}

func TestCreateRejectsNonRefundableInvoice(t *testing.T) {
	f := newApproveFixture(t)
	f.repo.invoice.Status = enums.InvoiceStatusPending

	_, err := f.svc.Create(context.Background(), elevatedActor(), CreateRequestInput{InvoiceID: f.invoiceID})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateRejectsInvoiceWithoutWorkspace(t *testing.T) {
	f := newApproveFixture(t)
	f.repo.invoice.WorkspaceID = nil

	_, err := f.svc.Create(context.Background(), elevatedActor(), CreateRequestInput{InvoiceID: f.invoiceID})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInvoiceWorkspaceMissing {
		t.Fatalf("expected invoice workspace conflict, got %v", err)
	}
}

func TestApproveFullRefund(t *testing.T) {
	f := newApproveFixture(t)

	result, err := f.svc.Approve(context.Background(), elevatedActor(), f.requestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK || result.AlreadyRefunded {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.StripeRefundID != "re_1" {
		t.Fatalf("expected provider refund id, got %q", result.StripeRefundID)
	}

	if len(f.payments.refundCalls) != 1 {
		t.Fatalf("expected one refund call, got %d", len(f.payments.refundCalls))
	}
	call := f.payments.refundCalls[0]
	if call.IdempotencyKey != IdempotencyKey(f.requestID) {
		t.Fatalf("wrong idempotency key: %q", call.IdempotencyKey)
	}
	if call.MerchantAccountID != "acct_123" {
		t.Fatalf("refund must run on the workspace merchant account, got %q", call.MerchantAccountID)
	}
	if call.ChargeID != "ch_1" {
		t.Fatalf("wrong charge: %q", call.ChargeID)
	}

	if f.repo.markedStatus != enums.RefundRequestStatusApproved {
		t.Fatalf("request not marked approved")
	}
	if f.repo.markedRefundID == nil || *f.repo.markedRefundID != "re_1" {
		t.Fatalf("refund handle not persisted")
	}
	if f.repo.invoiceStatus != enums.InvoiceStatusRefunded {
		t.Fatalf("fully refunded charge must promote invoice to refunded, got %q", f.repo.invoiceStatus)
	}
}

func TestApprovePartialRefund(t *testing.T) {
	f := newApproveFixture(t)
	f.payments.charge = &stripe.Charge{ID: "ch_1", Amount: 15000, AmountRefunded: 7500}

	result, err := f.svc.Approve(context.Background(), elevatedActor(), f.requestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected success")
	}
	if f.repo.invoiceStatus != enums.InvoiceStatusPartiallyRefunded {
		t.Fatalf("expected partially refunded, got %q", f.repo.invoiceStatus)
	}
}

func TestApproveRefundedInvoiceNeverReverts(t *testing.T) {
	f := newApproveFixture(t)
	f.repo.invoice.Status = enums.InvoiceStatusRefunded
	f.payments.charge = &stripe.Charge{ID: "ch_1", Amount: 15000, AmountRefunded: 7500}

	_, err := f.svc.Approve(context.Background(), elevatedActor(), f.requestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.invoiceStatus != enums.InvoiceStatusRefunded {
		t.Fatalf("refunded invoice must stay refunded, got %q", f.repo.invoiceStatus)
	}
}

func TestApproveRequiresElevatedRole(t *testing.T) {
	f := newApproveFixture(t)

	_, err := f.svc.Approve(context.Background(), auth.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember}, f.requestID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(f.payments.refundCalls) != 0 {
		t.Fatalf("no provider call expected")
	}
}

func TestApproveAlreadyResolvedRequest(t *testing.T) {
	f := newApproveFixture(t)
	f.repo.request.Status = enums.RefundRequestStatusApproved

	_, err := f.svc.Approve(context.Background(), elevatedActor(), f.requestID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeAlreadyResolved {
		t.Fatalf("expected already resolved, got %v", err)
	}
}

func TestApproveWorkspaceMismatchReadsAsMissing(t *testing.T) {
	f := newApproveFixture(t)
	f.repo.request.WorkspaceID = uuid.New()

	_, err := f.svc.Approve(context.Background(), elevatedActor(), f.requestID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(f.payments.refundCalls) != 0 {
		t.Fatalf("mismatched attribution must never reach the provider")
	}
}

func TestApproveMissingPaymentIntent(t *testing.T) {
	f := newApproveFixture(t)
	f.repo.invoice.StripePaymentIntentID = nil

	_, err := f.svc.Approve(context.Background(), elevatedActor(), f.requestID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestApproveLosesRaceToConcurrentResolution(t *testing.T) {
	f := newApproveFixture(t)
	f.repo.markResolvedBlocked = true

	_, err := f.svc.Approve(context.Background(), elevatedActor(), f.requestID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeAlreadyResolved {
		t.Fatalf("expected already resolved on lost race, got %v", err)
	}
}

func TestApproveAlreadyRefundedReplay(t *testing.T) {
	f := newApproveFixture(t)
	f.payments.refundErr = &stripe.Error{Code: stripe.ErrorCodeChargeAlreadyRefunded}
	f.payments.charge = &stripe.Charge{
		ID:             "ch_1",
		Amount:         15000,
		AmountRefunded: 15000,
		Refunds: &stripe.RefundList{
			Data: []*stripe.Refund{{ID: "re_prior", Amount: 15000, Created: 100}},
		},
	}

	result, err := f.svc.Approve(context.Background(), elevatedActor(), f.requestID)
	if err != nil {
		t.Fatalf("replayed refund must succeed, got %v", err)
	}
	if !result.AlreadyRefunded {
		t.Fatalf("expected already-refunded flag")
	}
	if result.StripeRefundID != "re_prior" {
		t.Fatalf("snapshot must recover the refund handle, got %q", result.StripeRefundID)
	}
	if f.repo.invoiceStatus != enums.InvoiceStatusRefunded {
		t.Fatalf("expected refunded invoice, got %q", f.repo.invoiceStatus)
	}
}

func TestApproveProviderPermissionDenied(t *testing.T) {
	f := newApproveFixture(t)
	f.payments.refundErr = &stripe.Error{HTTPStatusCode: 403}

	_, err := f.svc.Approve(context.Background(), elevatedActor(), f.requestID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeProviderPermission {
		t.Fatalf("expected provider permission conflict, got %v", err)
	}
}

func TestDeclineResolvesWithoutProvider(t *testing.T) {
	f := newApproveFixture(t)
	actor := elevatedActor()

	request, err := f.svc.Decline(context.Background(), actor, f.requestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != enums.RefundRequestStatusDeclined {
		t.Fatalf("expected declined, got %q", request.Status)
	}
	if request.ResolvedBy == nil || *request.ResolvedBy != actor.UserID {
		t.Fatalf("resolver not recorded")
	}
	if len(f.payments.refundCalls) != 0 {
		t.Fatalf("decline must never call the provider")
	}
}

func TestListPagesWithCursor(t *testing.T) {
	f := newApproveFixture(t)
	now := time.Now().UTC()
	f.repo.listRows = []models.RefundRequest{
		{ID: uuid.New(), WorkspaceID: f.workspaceID, CreatedAt: now},
		{ID: uuid.New(), WorkspaceID: f.workspaceID, CreatedAt: now.Add(-time.Minute)},
		{ID: uuid.New(), WorkspaceID: f.workspaceID, CreatedAt: now.Add(-2 * time.Minute)},
	}

	result, err := f.svc.List(context.Background(), f.workspaceID, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Requests) != 2 {
		t.Fatalf("expected trimmed page of 2, got %d", len(result.Requests))
	}
	if f.repo.listLimit != 3 {
		t.Fatalf("expected buffered limit 3, got %d", f.repo.listLimit)
	}
	if result.NextCursor == "" {
		t.Fatalf("expected continuation cursor")
	}

	cursor, err := pagination.ParseCursor(result.NextCursor)
	if err != nil {
		t.Fatalf("cursor must round-trip: %v", err)
	}
	if cursor.ID != result.Requests[1].ID {
		t.Fatalf("cursor must point at the last returned row")
	}
}

func TestListLastPageHasNoCursor(t *testing.T) {
	f := newApproveFixture(t)
	f.repo.listRows = []models.RefundRequest{
		{ID: uuid.New(), WorkspaceID: f.workspaceID, CreatedAt: time.Now().UTC()},
	}

	result, err := f.svc.List(context.Background(), f.workspaceID, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Requests) != 1 || result.NextCursor != "" {
		t.Fatalf("unexpected page: %+v", result)
	}
}

func TestListRejectsMalformedCursor(t *testing.T) {
	f := newApproveFixture(t)

	_, err := f.svc.List(context.Background(), f.workspaceID, pagination.Params{Cursor: "not-a-cursor"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeclineRequiresElevatedRole(t *testing.T) {
	f := newApproveFixture(t)

	_, err := f.svc.Decline(context.Background(), auth.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember}, f.requestID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
