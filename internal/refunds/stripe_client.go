package refunds

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/charge"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	pkgstripe "github.com/rmoralesdev/ledgerflow-backend/pkg/stripe"
)

// RefundCall carries everything the provider needs for one refund attempt.
// MerchantAccountID pins the call to the invoice's workspace account and the
// idempotency key makes retried approvals collapse into one provider refund.
type RefundCall struct {
	ChargeID          string
	MerchantAccountID string
	IdempotencyKey    string
}

// PaymentClient exposes the provider reads and the refund write the approval
// flow performs.
type PaymentClient interface {
	GetPaymentIntent(ctx context.Context, id, merchantAccountID string) (*stripe.PaymentIntent, error)
	GetCharge(ctx context.Context, id, merchantAccountID string) (*stripe.Charge, error)
	CreateRefund(ctx context.Context, call RefundCall) (*stripe.Refund, error)
}

type paymentClientWrapper struct{}

// NewPaymentClient wraps the shared Stripe client so the service can be tested.
func NewPaymentClient(api *pkgstripe.Client) PaymentClient {
	if api == nil {
		return nil
	}
	return &paymentClientWrapper{}
}

func (w *paymentClientWrapper) GetPaymentIntent(ctx context.Context, id, merchantAccountID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.SetStripeAccount(merchantAccountID)
	params.AddExpand("latest_charge")
	return paymentintent.Get(id, params)
}

func (w *paymentClientWrapper) GetCharge(ctx context.Context, id, merchantAccountID string) (*stripe.Charge, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx
	params.SetStripeAccount(merchantAccountID)
	params.AddExpand("refunds")
	return charge.Get(id, params)
}

func (w *paymentClientWrapper) CreateRefund(ctx context.Context, call RefundCall) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		Charge: stripe.String(call.ChargeID),
	}
	params.Context = ctx
	params.SetStripeAccount(call.MerchantAccountID)
	params.SetIdempotencyKey(call.IdempotencyKey)
	return refund.New(params)
}

// isAlreadyRefunded detects the provider's idempotent-replay signal. The
// approval flow treats it as success.
func isAlreadyRefunded(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded
	}
	return false
}

// isPermissionDenied detects account or mode mismatches between the API key
// and the connected merchant account.
func isPermissionDenied(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusForbidden || stripeErr.HTTPStatusCode == http.StatusUnauthorized {
			return true
		}
		return stripeErr.Code == stripe.ErrorCodeAccountInvalid
	}
	return false
}
