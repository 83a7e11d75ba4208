package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BillingEvent is the reconciliation audit log. ExternalEventID doubles as the
// dedupe key: a conflicting insert is a no-op and marks the whole
// reconciliation as a duplicate delivery.
type BillingEvent struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	WorkspaceID     uuid.UUID       `gorm:"column:workspace_id;type:uuid;not null;index"`
	EventType       string          `gorm:"column:event_type;not null"`
	ExternalEventID string          `gorm:"column:external_event_id;not null;unique"`
	Status          string          `gorm:"column:status;not null"`
	Plan            string          `gorm:"column:plan;not null"`
	Meta            json.RawMessage `gorm:"column:meta;type:jsonb"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
}
