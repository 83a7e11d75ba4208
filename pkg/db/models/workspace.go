package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace is the tenant boundary: it owns invoices, customers, and exactly
// one billing record.
type Workspace struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	OwnerID   uuid.UUID `gorm:"column:owner_id;type:uuid;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
