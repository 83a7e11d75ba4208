package reconcile

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/db/models"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
)

// Repository handles billing-event and workspace-billing persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertEvent(ctx context.Context, event *models.BillingEvent) (bool, error)
	FindEventByDedupeKey(ctx context.Context, key string) (*models.BillingEvent, error)
	UpsertWorkspaceBilling(ctx context.Context, billing *models.WorkspaceBilling) error
	UpdateOwnerBilling(ctx context.Context, workspaceID uuid.UUID, plan string, status enums.SubscriptionStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a reconciliation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertEvent writes the audit row and reports whether the insert landed. A
// conflicting dedupe key is a no-op, which is what makes event processing
// idempotent under at-least-once delivery.
func (r *repository) InsertEvent(ctx context.Context, event *models.BillingEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindEventByDedupeKey(ctx context.Context, key string) (*models.BillingEvent, error) {
	var event models.BillingEvent
	if err := r.db.WithContext(ctx).
		Where("external_event_id = ?", key).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) UpsertWorkspaceBilling(ctx context.Context, billing *models.WorkspaceBilling) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "workspace_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan",
				"subscription_status",
				"stripe_customer_id",
				"stripe_subscription_id",
				"cancel_at_period_end",
				"current_period_end",
				"updated_at",
			}),
		}).
		Create(billing).Error
}

func (r *repository) UpdateOwnerBilling(ctx context.Context, workspaceID uuid.UUID, plan string, status enums.SubscriptionStatus) error {
	return r.db.WithContext(ctx).
		Exec(`UPDATE users
		      SET plan = ?, subscription_status = ?, updated_at = NOW()
		      FROM workspaces
		      WHERE workspaces.owner_id = users.id AND workspaces.id = ?`,
			plan, status, workspaceID).Error
}
