package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
)

// RefundRequest tracks the approval state machine for one requested refund.
// WorkspaceID is copied from the invoice's owning workspace at creation time
// and never reassigned, regardless of the approver's active workspace.
type RefundRequest struct {
	ID             uuid.UUID                 `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	WorkspaceID    uuid.UUID                 `gorm:"column:workspace_id;type:uuid;not null;index"`
	InvoiceID      uuid.UUID                 `gorm:"column:invoice_id;type:uuid;not null;index"`
	Status         enums.RefundRequestStatus `gorm:"column:status;type:refund_request_status;not null;default:'pending'"`
	Reason         *string                   `gorm:"column:reason"`
	RequestedBy    uuid.UUID                 `gorm:"column:requested_by;type:uuid;not null"`
	ResolvedBy     *uuid.UUID                `gorm:"column:resolved_by;type:uuid"`
	ResolvedAt     *time.Time                `gorm:"column:resolved_at"`
	StripeRefundID *string                   `gorm:"column:stripe_refund_id"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
