package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/auth"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/db/models"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/metrics"
)

const (
	sourcePush = "push"
	sourcePull = "pull"

	eventTypeManualReconcile = "manual_reconcile"
	manualDedupePrefix       = "manual_reconcile:"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams holds the dependencies for the billing reconciler.
type ServiceParams struct {
	Repo         Repository
	Provider     ProviderClient
	TxRunner     txRunner
	Logger       *logger.Logger
	Metrics      *metrics.ReconcileMetrics
	PricePlanMap map[string]string
}

// Service reconciles provider subscription state into workspace billing rows.
// Webhook deliveries push state in; manual reconciliation pulls fresh state
// from the provider. Both paths funnel through the same transactional apply.
type Service struct {
	repo     Repository
	provider ProviderClient
	txRunner txRunner
	logger   *logger.Logger
	metrics  *metrics.ReconcileMetrics
	priceMap map[string]string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.TxRunner == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		repo:     params.Repo,
		provider: params.Provider,
		txRunner: params.TxRunner,
		logger:   params.Logger,
		metrics:  params.Metrics,
		priceMap: params.PricePlanMap,
	}, nil
}

// Result reports what a reconciliation did.
type Result struct {
	WorkspaceID uuid.UUID                `json:"workspaceId"`
	Plan        string                   `json:"plan"`
	Status      enums.SubscriptionStatus `json:"status"`
	Deduped     bool                     `json:"deduped"`
}

// HandleEvent is the push path. The workspace comes strictly from event
// metadata; an event that cannot be attributed is rejected rather than
// guessed at.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (*Result, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}

	ctx = s.logger.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			s.metrics.IncFailed(sourcePush)
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing subscription payload")
		}
		workspaceID, err := WorkspaceIDFromMetadata(sub.Metadata)
		if err != nil {
			s.metrics.IncFailed(sourcePush)
			return nil, err
		}
		return s.apply(ctx, applyInput{
			Source:      sourcePush,
			DedupeKey:   event.ID,
			EventType:   string(event.Type),
			WorkspaceID: workspaceID,
			Sub:         &sub,
		})

	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			s.metrics.IncFailed(sourcePush)
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing checkout session payload")
		}
		return s.reconcileSession(ctx, sourcePush, event.ID, string(event.Type), &session, nil)

	default:
		s.logger.Info(ctx, "reconcile.event_ignored")
		return nil, nil
	}
}

// ManualReconcileParams identifies the provider object to pull. Exactly one
// of the two references must be set.
type ManualReconcileParams struct {
	SessionID      string `json:"sessionId" validate:"omitempty,min=1"`
	SubscriptionID string `json:"subscriptionId" validate:"omitempty,min=1"`
}

// ManualReconcile is the pull path: fetch current provider state and apply it.
// Unlike the push path, a missing workspace_id in metadata may fall back to
// the actor's active workspace, since the actor just completed checkout there.
func (s *Service) ManualReconcile(ctx context.Context, actor auth.Actor, params ManualReconcileParams) (*Result, error) {
	sessionID := strings.TrimSpace(params.SessionID)
	subscriptionID := strings.TrimSpace(params.SubscriptionID)
	if (sessionID == "") == (subscriptionID == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of sessionId or subscriptionId is required")
	}
	if s.provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing provider is not configured")
	}

	ctx = s.logger.WithUserID(ctx, actor.UserID.String())

	if sessionID != "" {
		session, err := s.provider.GetCheckoutSession(ctx, sessionID)
		if err != nil {
			s.metrics.IncFailed(sourcePull)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching checkout session")
		}
		return s.reconcileSession(ctx, sourcePull, manualDedupePrefix+sessionID, eventTypeManualReconcile, session, &actor)
	}

	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		s.metrics.IncFailed(sourcePull)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching subscription")
	}
	workspaceID, err := s.attributeWorkspace(sub.Metadata, nil, &actor)
	if err != nil {
		s.metrics.IncFailed(sourcePull)
		return nil, err
	}
	return s.apply(ctx, applyInput{
		Source:      sourcePull,
		DedupeKey:   manualDedupePrefix + subscriptionID,
		EventType:   eventTypeManualReconcile,
		WorkspaceID: workspaceID,
		Sub:         sub,
	})
}

// reconcileSession resolves the subscription behind a checkout session and
// applies it. Sessions without a subscription (one-off payments) carry no
// billing state and are rejected.
func (s *Service) reconcileSession(ctx context.Context, source, dedupeKey, eventType string, session *stripe.CheckoutSession, actor *auth.Actor) (*Result, error) {
	if session == nil || session.Subscription == nil || session.Subscription.ID == "" {
		s.metrics.IncFailed(source)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session has no subscription")
	}

	sub := session.Subscription
	// Webhook payloads and unexpanded fetches carry only the subscription ID,
	// so refetch whenever the object looks hollow.
	if sub.Status == "" || sub.Items == nil {
		if s.provider == nil {
			s.metrics.IncFailed(source)
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing provider is not configured")
		}
		fetched, err := s.provider.GetSubscription(ctx, sub.ID)
		if err != nil {
			s.metrics.IncFailed(source)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching session subscription")
		}
		sub = fetched
	}

	workspaceID, err := s.attributeWorkspace(sub.Metadata, session.Metadata, actor)
	if err != nil {
		s.metrics.IncFailed(source)
		return nil, err
	}
	return s.apply(ctx, applyInput{
		Source:      source,
		DedupeKey:   dedupeKey,
		EventType:   eventType,
		WorkspaceID: workspaceID,
		Sub:         sub,
	})
}

// attributeWorkspace picks the workspace the state belongs to. Subscription
// metadata wins, then session metadata, then (pull path only) the actor's
// active workspace.
func (s *Service) attributeWorkspace(subMeta, sessionMeta map[string]string, actor *auth.Actor) (uuid.UUID, error) {
	if id, err := WorkspaceIDFromMetadata(subMeta); err == nil {
		return id, nil
	}
	if id, err := WorkspaceIDFromMetadata(sessionMeta); err == nil {
		return id, nil
	}
	if actor != nil && actor.ActiveWorkspaceID != nil && *actor.ActiveWorkspaceID != uuid.Nil {
		return *actor.ActiveWorkspaceID, nil
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "unable to attribute billing event to a workspace")
}

type applyInput struct {
	Source      string
	DedupeKey   string
	EventType   string
	WorkspaceID uuid.UUID
	Sub         *stripe.Subscription
}

// apply runs the single-transaction state write. The plan is derived before
// anything is persisted so a failed derivation leaves no partial rows behind.
func (s *Service) apply(ctx context.Context, in applyInput) (*Result, error) {
	ctx = s.logger.WithWorkspaceID(ctx, in.WorkspaceID.String())

	plan, err := DerivePlan(in.Sub, s.priceMap)
	if err != nil {
		s.metrics.IncFailed(in.Source)
		s.logger.Error(ctx, "reconcile.plan_unresolved", err)
		return nil, err
	}

	status := enums.SubscriptionStatus(strings.ToLower(strings.TrimSpace(string(in.Sub.Status))))
	if status == "" {
		s.metrics.IncFailed(in.Source)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription status is empty")
	}

	var result *Result
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		event := &models.BillingEvent{
			WorkspaceID:     in.WorkspaceID,
			EventType:       in.EventType,
			ExternalEventID: in.DedupeKey,
			Status:          status.String(),
			Plan:            plan,
			Meta:            eventMeta(in.Sub),
		}
		inserted, err := repo.InsertEvent(ctx, event)
		if err != nil {
			return fmt.Errorf("inserting billing event: %w", err)
		}
		if !inserted {
			prior, err := repo.FindEventByDedupeKey(ctx, in.DedupeKey)
			if err != nil {
				return fmt.Errorf("loading duplicate billing event: %w", err)
			}
			result = &Result{WorkspaceID: in.WorkspaceID, Deduped: true}
			if prior != nil {
				result.Plan = prior.Plan
				result.Status = enums.SubscriptionStatus(prior.Status)
			}
			return nil
		}

		billing := &models.WorkspaceBilling{
			WorkspaceID:        in.WorkspaceID,
			Plan:               plan,
			SubscriptionStatus: status,
			CancelAtPeriodEnd:  in.Sub.CancelAtPeriodEnd,
		}
		if in.Sub.Customer != nil && in.Sub.Customer.ID != "" {
			billing.StripeCustomerID = &in.Sub.Customer.ID
		}
		if in.Sub.ID != "" {
			billing.StripeSubscriptionID = &in.Sub.ID
		}
		if end := currentPeriodEnd(in.Sub); end > 0 {
			t := time.Unix(end, 0).UTC()
			billing.CurrentPeriodEnd = &t
		}
		if err := repo.UpsertWorkspaceBilling(ctx, billing); err != nil {
			return fmt.Errorf("upserting workspace billing: %w", err)
		}
		if err := repo.UpdateOwnerBilling(ctx, in.WorkspaceID, plan, status); err != nil {
			return fmt.Errorf("updating owner billing: %w", err)
		}

		result = &Result{WorkspaceID: in.WorkspaceID, Plan: plan, Status: status}
		return nil
	})
	if err != nil {
		s.metrics.IncFailed(in.Source)
		s.logger.Error(ctx, "reconcile.apply_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "applying billing state")
	}

	if result.Deduped {
		s.metrics.IncDeduped(in.Source)
		s.logger.Info(ctx, "reconcile.deduped")
	} else {
		s.metrics.IncProcessed(in.Source)
		s.logger.Info(ctx, "reconcile.applied")
	}
	return result, nil
}

func eventMeta(sub *stripe.Subscription) json.RawMessage {
	if sub == nil {
		return nil
	}
	meta := map[string]any{
		"subscription_id":      sub.ID,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	}
	if price := primaryPrice(sub); price != nil {
		meta["price_id"] = price.ID
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return raw
}
