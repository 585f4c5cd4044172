package refunds

import (
	"context"
	"time"

	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a refunds repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, req *models.RefundRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var req models.RefundRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) FindByRefundIntentID(ctx context.Context, refundIntentID string) (*models.RefundRequest, error) {
	var req models.RefundRequest
	if err := r.db.WithContext(ctx).Where("refund_intent_id = ?", refundIntentID).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.RefundRequest, error) {
	var rows []models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByStatuses(ctx context.Context, statuses []enums.RefundRequestStatus, oldestFirst bool) ([]models.RefundRequest, error) {
	direction := "DESC"
	if oldestFirst {
		direction = "ASC"
	}
	var rows []models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at " + direction).
		Order("id " + direction).
		Find(&rows).Error
	return rows, err
}

func (r *repository) UpdateGuarded(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")

	query := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, guard.Status)
	if guard.Version != nil {
		query = query.Where("version = ?", *guard.Version)
	}
	if guard.ProcessingToken != nil {
		query = query.Where("processing_token = ?", *guard.ProcessingToken)
	}
	if guard.StripeRefundStatus != nil {
		query = query.Where("stripe_refund_status = ?", *guard.StripeRefundStatus)
	}
	result := query.Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) Claim(ctx context.Context, id uuid.UUID, token string, now, staleBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusApproved).
		Where("processing_token IS NULL OR processing_claimed_at < ?", staleBefore).
		Updates(map[string]any{
			"processing_token":      token,
			"processing_claimed_at": now,
			"version":               gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error {
	return r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND processing_token = ?", id, token).
		Updates(map[string]any{
			"processing_token":      nil,
			"processing_claimed_at": nil,
			"version":               gorm.Expr("version + 1"),
		}).Error
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.RefundStatusEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, refundRequestID uuid.UUID) ([]models.RefundStatusEntry, error) {
	var rows []models.RefundStatusEntry
	err := r.db.WithContext(ctx).
		Where("refund_request_id = ?", refundRequestID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) CountByStatus(ctx context.Context, since *time.Time) ([]StatusCount, error) {
	query := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount_cents), 0) AS amount_cents")
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	var rows []StatusCount
	err := query.Group("status").Scan(&rows).Error
	return rows, err
}

func (r *repository) SumRefunded(ctx context.Context, since *time.Time) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Select("COALESCE(SUM(refunded_amount_cents), 0)").
		Where("status = ? AND stripe_refund_status = ?", enums.RefundStatusProcessed, enums.StripeRefundSucceeded)
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	var total int64
	err := query.Scan(&total).Error
	return total, err
}
