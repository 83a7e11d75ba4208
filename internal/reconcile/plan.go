package reconcile

import (
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
)

// DerivePlan resolves the plan identifier for a subscription in priority
// order: explicit plan metadata, then the configured price-to-plan map, then
// product metadata. No plan means the whole reconciliation is abandoned;
// defaulting silently would overwrite authoritative state with a guess.
func DerivePlan(sub *stripe.Subscription, priceMap map[string]string) (string, error) {
	if sub == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}

	if plan := strings.TrimSpace(sub.Metadata["plan"]); plan != "" {
		return strings.ToLower(plan), nil
	}

	price := primaryPrice(sub)
	if price != nil {
		if plan, ok := priceMap[price.ID]; ok && strings.TrimSpace(plan) != "" {
			return strings.ToLower(strings.TrimSpace(plan)), nil
		}
		if price.Product != nil {
			if plan := strings.TrimSpace(price.Product.Metadata["plan"]); plan != "" {
				return strings.ToLower(plan), nil
			}
		}
	}

	return "", pkgerrors.New(pkgerrors.CodeDependency, "unable to resolve plan for subscription").
		WithDetails(map[string]any{"subscription_id": sub.ID})
}

// WorkspaceIDFromMetadata extracts the workspace the event belongs to.
func WorkspaceIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	if metadata == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription metadata is required")
	}
	raw, ok := metadata["workspace_id"]
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace_id missing from metadata")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid workspace_id metadata")
	}
	return id, nil
}

func primaryPrice(sub *stripe.Subscription) *stripe.Price {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0].Price
}

func currentPeriodEnd(sub *stripe.Subscription) int64 {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0
	}
	return sub.Items.Data[0].CurrentPeriodEnd
}
