package workspaces

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
)

// BillingView is the read model the dashboard renders for a workspace. A
// workspace with no billing row reads as free/canceled rather than erroring.
type BillingView struct {
	WorkspaceID        uuid.UUID                `json:"workspaceId"`
	Plan               string                   `json:"plan"`
	SubscriptionStatus enums.SubscriptionStatus `json:"subscriptionStatus"`
	Entitled           bool                     `json:"entitled"`
	CancelAtPeriodEnd  bool                     `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd   *time.Time               `json:"currentPeriodEnd,omitempty"`
	UpgradeURL         string                   `json:"upgradeUrl,omitempty"`
}

// ServiceParams groups dependencies for the workspace billing service.
type ServiceParams struct {
	Repo             Repository
	Logger           *logger.Logger
	UpgradeActionURL string
}

// Service exposes workspace billing reads.
type Service struct {
	repo             Repository
	logger           *logger.Logger
	upgradeActionURL string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		repo:             params.Repo,
		logger:           params.Logger,
		upgradeActionURL: params.UpgradeActionURL,
	}, nil
}

// GetBilling returns the billing view for a workspace.
func (s *Service) GetBilling(ctx context.Context, workspaceID uuid.UUID) (*BillingView, error) {
	workspace, err := s.repo.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load workspace")
	}
	if workspace == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "workspace not found")
	}

	view := &BillingView{
		WorkspaceID:        workspaceID,
		Plan:               "free",
		SubscriptionStatus: enums.SubscriptionStatusCanceled,
	}

	billing, err := s.repo.FindBillingByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load workspace billing")
	}
	if billing != nil {
		view.Plan = billing.Plan
		view.SubscriptionStatus = billing.SubscriptionStatus
		view.CancelAtPeriodEnd = billing.CancelAtPeriodEnd
		view.CurrentPeriodEnd = billing.CurrentPeriodEnd
	}

	view.Entitled = view.SubscriptionStatus.IsEntitled()
	if !view.Entitled {
		view.UpgradeURL = s.upgradeActionURL
	}
	return view, nil
}
