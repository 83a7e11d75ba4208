package workspaces

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/db/models"
)

// Repository handles workspace, owner, and billing-row persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindWorkspaceByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	FindOwner(ctx context.Context, workspaceID uuid.UUID) (*models.User, error)
	FindBillingByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.WorkspaceBilling, error)
	FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a workspace repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindWorkspaceByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	var workspace models.Workspace
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&workspace).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &workspace, nil
}

func (r *repository) FindOwner(ctx context.Context, workspaceID uuid.UUID) (*models.User, error) {
	var owner models.User
	if err := r.db.WithContext(ctx).
		Joins("JOIN workspaces ON workspaces.owner_id = users.id").
		Where("workspaces.id = ?", workspaceID).
		First(&owner).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &owner, nil
}

func (r *repository) FindBillingByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.WorkspaceBilling, error) {
	var billing models.WorkspaceBilling
	if err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		First(&billing).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &billing, nil
}

func (r *repository) FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}
