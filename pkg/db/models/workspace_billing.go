package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
)

// WorkspaceBilling persists the authoritative plan/subscription state for a
// workspace. Mutated only by the reconciler, inside a single transaction,
// keyed by the workspace resolved from event metadata, never from the acting
// user's default workspace.
type WorkspaceBilling struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	WorkspaceID          uuid.UUID                `gorm:"column:workspace_id;type:uuid;not null;unique"`
	Plan                 string                   `gorm:"column:plan;not null;default:'free'"`
	SubscriptionStatus   enums.SubscriptionStatus `gorm:"column:subscription_status;not null;default:'canceled'"`
	StripeCustomerID     *string                  `gorm:"column:stripe_customer_id"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the plural-exception table name.
func (WorkspaceBilling) TableName() string {
	return "workspace_billing"
}
