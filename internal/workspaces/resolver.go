package workspaces

import (
	"context"

	"github.com/google/uuid"

	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
)

// Attribution is the billing bundle for the workspace that owns an invoice.
// Every payment and refund path must route through this bundle; deriving the
// merchant account from the acting user's currently selected workspace charges
// the wrong tenant when an actor administers several workspaces.
type Attribution struct {
	WorkspaceID       uuid.UUID
	MerchantAccountID string
	CustomerID        string
	BillingRowExists  bool
}

// ResolverParams groups dependencies for the billing resolver.
type ResolverParams struct {
	Repo             Repository
	ConnectActionURL string
}

// Resolver maps an invoice to the merchant account of its owning workspace.
type Resolver struct {
	repo             Repository
	connectActionURL string
}

// NewResolver builds a billing resolver.
func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repo is required")
	}
	return &Resolver{
		repo:             params.Repo,
		connectActionURL: params.ConnectActionURL,
	}, nil
}

// ResolveForInvoice walks invoice -> owning workspace -> owner's connected
// merchant account. Missing configuration surfaces as typed conflicts so
// callers fail closed instead of falling back to another workspace's account.
func (r *Resolver) ResolveForInvoice(ctx context.Context, invoiceID uuid.UUID) (*Attribution, error) {
	invoice, err := r.repo.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if invoice.WorkspaceID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvoiceWorkspaceMissing, "invoice has no owning workspace").
			WithDetails(map[string]any{"invoice_id": invoiceID.String()})
	}

	workspaceID := *invoice.WorkspaceID
	workspace, err := r.repo.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load workspace")
	}
	if workspace == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "workspace not found")
	}

	owner, err := r.repo.FindOwner(ctx, workspaceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load workspace owner")
	}
	if owner == nil || owner.StripeAccountID == nil || *owner.StripeAccountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeBillingMissing, "workspace has no connected payment account").
			WithAction(r.connectActionURL).
			WithDetails(map[string]any{"workspace_id": workspaceID.String()})
	}

	billing, err := r.repo.FindBillingByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load workspace billing")
	}

	attribution := &Attribution{
		WorkspaceID:       workspaceID,
		MerchantAccountID: *owner.StripeAccountID,
		BillingRowExists:  billing != nil,
	}
	if billing != nil && billing.StripeCustomerID != nil {
		attribution.CustomerID = *billing.StripeCustomerID
	} else if owner.StripeCustomerID != nil {
		attribution.CustomerID = *owner.StripeCustomerID
	}
	return attribution, nil
}
