package reconcile

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/rmoralesdev/ledgerflow-backend/pkg/stripe"
)

// ProviderClient exposes the subset of Stripe reads the reconciler performs
// on the pull path. Manual reconciliation always fetches current provider
// state instead of trusting cached webhook payloads.
type ProviderClient interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
}

type providerClientWrapper struct{}

// NewProviderClient wraps the shared Stripe client so the reconciler can be tested.
func NewProviderClient(api *pkgstripe.Client) ProviderClient {
	if api == nil {
		return nil
	}
	return &providerClientWrapper{}
}

func (w *providerClientWrapper) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")
	return subscription.Get(id, params)
}

func (w *providerClientWrapper) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")
	return checkoutsession.Get(id, params)
}
