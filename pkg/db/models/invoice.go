package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
)

// Invoice is the payable document. WorkspaceID is fixed at creation and is the
// only source of truth for payment attribution; it is nullable because legacy
// rows predate workspace scoping, and such invoices are not payable.
type Invoice struct {
	ID                    uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	WorkspaceID           *uuid.UUID          `gorm:"column:workspace_id;type:uuid;index"`
	Number                string              `gorm:"column:number;not null"`
	AmountCents           int64               `gorm:"column:amount_cents;not null"`
	Currency              string              `gorm:"column:currency;not null;default:'usd'"`
	Status                enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'pending'"`
	StripePaymentIntentID *string             `gorm:"column:stripe_payment_intent_id"`
	RefundedAt            *time.Time          `gorm:"column:refunded_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
