package refunds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/db/models"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/pagination"
)

// Repository handles refund request and invoice persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRequest(ctx context.Context, request *models.RefundRequest) error
	FindRequestByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListRequestsByWorkspace(ctx context.Context, workspaceID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.RefundRequest, error)
	MarkResolved(ctx context.Context, id uuid.UUID, status enums.RefundRequestStatus, resolvedBy uuid.UUID, refundID *string, resolvedAt time.Time) (bool, error)
	UpdateInvoiceRefund(ctx context.Context, invoiceID uuid.UUID, status enums.InvoiceStatus, refundedAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a refunds repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRequest(ctx context.Context, request *models.RefundRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) FindRequestByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var request models.RefundRequest
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&request).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
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

func (r *repository) ListRequestsByWorkspace(ctx context.Context, workspaceID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.RefundRequest, error) {
	query := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var requests []models.RefundRequest
	if err := query.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// MarkResolved flips a pending request to its terminal state. The status guard
// in the WHERE clause is the concurrency control: a racing duplicate approval
// matches zero rows and reports false instead of double-processing.
func (r *repository) MarkResolved(ctx context.Context, id uuid.UUID, status enums.RefundRequestStatus, resolvedBy uuid.UUID, refundID *string, resolvedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, enums.RefundRequestStatusPending).
		Updates(map[string]any{
			"status":           status,
			"resolved_by":      resolvedBy,
			"resolved_at":      resolvedAt,
			"stripe_refund_id": refundID,
			"updated_at":       resolvedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateInvoiceRefund sets the invoice's refund status. refunded_at is written
// only when still unset so the first refund keeps the original timestamp.
func (r *repository) UpdateInvoiceRefund(ctx context.Context, invoiceID uuid.UUID, status enums.InvoiceStatus, refundedAt time.Time) error {
	return r.db.WithContext(ctx).
		Exec(`UPDATE invoices
		      SET status = ?, refunded_at = COALESCE(refunded_at, ?), updated_at = NOW()
		      WHERE id = ?`,
			status, refundedAt, invoiceID).Error
}
