package refunds

import (
	"testing"

	"github.com/stripe/stripe-go/v84"
)

func TestBuildChargeSnapshotNilCharge(t *testing.T) {
	if _, err := BuildChargeSnapshot(nil); err == nil {
		t.Fatalf("expected error for nil charge")
	}
}

func TestBuildChargeSnapshotAggregateAmount(t *testing.T) {
	snapshot, err := BuildChargeSnapshot(&stripe.Charge{
		Amount:         15000,
		AmountRefunded: 15000,
		Currency:       "usd",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snapshot.FullyRefunded() {
		t.Fatalf("expected fully refunded: %+v", snapshot)
	}
	if snapshot.Currency != "usd" {
		t.Fatalf("currency not carried: %q", snapshot.Currency)
	}
}

func TestBuildChargeSnapshotSumsRefundsWhenAggregateMissing(t *testing.T) {
	snapshot, err := BuildChargeSnapshot(&stripe.Charge{
		Amount: 15000,
		Refunds: &stripe.RefundList{
			Data: []*stripe.Refund{
				{ID: "re_1", Amount: 5000, Created: 100},
				{ID: "re_2", Amount: 2500, Created: 200},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.AmountRefundedCents != 7500 {
		t.Fatalf("expected summed 7500, got %d", snapshot.AmountRefundedCents)
	}
	if snapshot.FullyRefunded() {
		t.Fatalf("partial refund must not read as full")
	}
	if snapshot.LatestRefundID != "re_2" {
		t.Fatalf("expected newest refund handle, got %q", snapshot.LatestRefundID)
	}
}

func TestFullyRefundedRequiresPositiveAmount(t *testing.T) {
	snapshot := ChargeRefundSnapshot{AmountCents: 0, AmountRefundedCents: 0}
	if snapshot.FullyRefunded() {
		t.Fatalf("zero-amount charge must not read as fully refunded")
	}
}
