package refunds

import (
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
)

// ChargeRefundSnapshot is the provider-authoritative refund picture for one
// charge, computed fresh on every approval. Local rows are never trusted for
// the partial-vs-full classification.
type ChargeRefundSnapshot struct {
	AmountCents         int64
	AmountRefundedCents int64
	Currency            string
	LatestRefundID      string
}

// FullyRefunded reports whether the provider has refunded the entire charge.
func (s ChargeRefundSnapshot) FullyRefunded() bool {
	return s.AmountCents > 0 && s.AmountRefundedCents >= s.AmountCents
}

// BuildChargeSnapshot flattens the charge's nested optional fields into the
// snapshot. When the aggregate refunded amount is absent it is recomputed by
// summing the refund line items.
func BuildChargeSnapshot(charge *stripe.Charge) (ChargeRefundSnapshot, error) {
	if charge == nil {
		return ChargeRefundSnapshot{}, pkgerrors.New(pkgerrors.CodeDependency, "charge is required")
	}

	snapshot := ChargeRefundSnapshot{
		AmountCents:         charge.Amount,
		AmountRefundedCents: charge.AmountRefunded,
		Currency:            string(charge.Currency),
	}

	if charge.Refunds != nil {
		var summed int64
		var latestCreated int64
		for _, refund := range charge.Refunds.Data {
			if refund == nil {
				continue
			}
			summed += refund.Amount
			if refund.Created >= latestCreated {
				latestCreated = refund.Created
				snapshot.LatestRefundID = refund.ID
			}
		}
		if snapshot.AmountRefundedCents == 0 && summed > 0 {
			snapshot.AmountRefundedCents = summed
		}
	}

	return snapshot, nil
}
