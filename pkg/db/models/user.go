package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
)

// User is an account that can own workspaces. The owner of a workspace carries
// the connected merchant account handle funds and refunds are attributed to.
type User struct {
	ID                 uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email              string                   `gorm:"column:email;not null;unique"`
	Name               *string                  `gorm:"column:name"`
	Role               enums.MemberRole         `gorm:"column:role;type:member_role;not null;default:'member'"`
	StripeAccountID    *string                  `gorm:"column:stripe_account_id"`
	StripeCustomerID   *string                  `gorm:"column:stripe_customer_id"`
	Plan               string                   `gorm:"column:plan;not null;default:'free'"`
	SubscriptionStatus enums.SubscriptionStatus `gorm:"column:subscription_status;not null;default:'canceled'"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
