package workspaces

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/db/models"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
)

type stubRepo struct {
	invoice   *models.Invoice
	workspace *models.Workspace
	owner     *models.User
	billing   *models.WorkspaceBilling
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }
func (s *stubRepo) FindWorkspaceByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	return s.workspace, nil
}
func (s *stubRepo) FindOwner(ctx context.Context, workspaceID uuid.UUID) (*models.User, error) {
	return s.owner, nil
}
func (s *stubRepo) FindBillingByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.WorkspaceBilling, error) {
	return s.billing, nil
}
func (s *stubRepo) FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.invoice, nil
}

func strPtr(s string) *string { return &s }

func newTestResolver(t *testing.T, repo Repository) *Resolver {
	t.Helper()
	resolver, err := NewResolver(ResolverParams{Repo: repo, ConnectActionURL: "/settings/payments"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resolver
}

func TestResolveForInvoiceMissingInvoice(t *testing.T) {
	resolver := newTestResolver(t, &stubRepo{})

	_, err := resolver.ResolveForInvoice(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveForInvoiceWithoutWorkspace(t *testing.T) {
	resolver := newTestResolver(t, &stubRepo{
		invoice: &models.Invoice{ID: uuid.New()},
	})

	_, err := resolver.ResolveForInvoice(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInvoiceWorkspaceMissing {
		t.Fatalf("expected invoice workspace conflict, got %v", err)
	}
}

func TestResolveForInvoiceOwnerWithoutAccount(t *testing.T) {
	workspaceID := uuid.New()
	resolver := newTestResolver(t, &stubRepo{
		invoice:   &models.Invoice{ID: uuid.New(), WorkspaceID: &workspaceID},
		workspace: &models.Workspace{ID: workspaceID},
		owner:     &models.User{ID: uuid.New()},
	})

	_, err := resolver.ResolveForInvoice(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeBillingMissing {
		t.Fatalf("expected billing missing conflict, got %v", err)
	}
	if typed.ActionURL() != "/settings/payments" {
		t.Fatalf("expected connect action url, got %q", typed.ActionURL())
	}
}

func TestResolveForInvoiceCustomerFromBillingRow(t *testing.T) {
	workspaceID := uuid.New()
	resolver := newTestResolver(t, &stubRepo{
		invoice:   &models.Invoice{ID: uuid.New(), WorkspaceID: &workspaceID},
		workspace: &models.Workspace{ID: workspaceID},
		owner: &models.User{
			ID:               uuid.New(),
			StripeAccountID:  strPtr("acct_123"),
			StripeCustomerID: strPtr("cus_owner"),
		},
		billing: &models.WorkspaceBilling{
			WorkspaceID:      workspaceID,
			StripeCustomerID: strPtr("cus_billing"),
		},
	})

	attribution, err := resolver.ResolveForInvoice(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attribution.WorkspaceID != workspaceID {
		t.Fatalf("wrong workspace: %s", attribution.WorkspaceID)
	}
	if attribution.MerchantAccountID != "acct_123" {
		t.Fatalf("wrong merchant account: %s", attribution.MerchantAccountID)
	}
	if attribution.CustomerID != "cus_billing" {
		t.Fatalf("billing row customer must win, got %s", attribution.CustomerID)
	}
	if !attribution.BillingRowExists {
		t.Fatalf("expected billing row flag")
	}
}

func TestResolveForInvoiceCustomerFallsBackToOwner(t *testing.T) {
	workspaceID := uuid.New()
	resolver := newTestResolver(t, &stubRepo{
		invoice:   &models.Invoice{ID: uuid.New(), WorkspaceID: &workspaceID},
		workspace: &models.Workspace{ID: workspaceID},
		owner: &models.User{
			ID:               uuid.New(),
			StripeAccountID:  strPtr("acct_123"),
			StripeCustomerID: strPtr("cus_owner"),
		},
	})

	attribution, err := resolver.ResolveForInvoice(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attribution.CustomerID != "cus_owner" {
		t.Fatalf("expected owner customer fallback, got %s", attribution.CustomerID)
	}
	if attribution.BillingRowExists {
		t.Fatalf("no billing row expected")
	}
}
