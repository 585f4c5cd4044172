package payments

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

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.withInstallments(ctx).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListOutstandingByUser(ctx context.Context, userID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.withInstallments(ctx).
		Where("user_id = ?", userID).
		Where("status IN ?", enums.OutstandingPaymentStatuses).
		Where("amount_due_cents > 0").
		Order("due_date ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListOutstanding(ctx context.Context, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.withInstallments(ctx).
		Where("status IN ?", enums.OutstandingPaymentStatuses).
		Where("amount_due_cents > 0").
		Order("due_date ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListPastDue(ctx context.Context, now time.Time) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.withInstallments(ctx).
		Where("status IN ?", enums.OutstandingPaymentStatuses).
		Where("due_date < ?", now).
		Order("due_date ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) UpdateIfUnchanged(ctx context.Context, id uuid.UUID, status enums.PaymentStatus, version int, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")

	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ? AND version = ?", id, status, version).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) UpdateInstallmentIfUnchanged(ctx context.Context, paymentID uuid.UUID, number int, status enums.InstallmentStatus, paidCents int64, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentInstallment{}).
		Where("payment_id = ? AND installment_number = ?", paymentID, number).
		Where("status = ? AND paid_amount_cents = ?", status, paidCents).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) AggregateByStatus(ctx context.Context) ([]StatusAggregate, error) {
	var rows []StatusAggregate
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select(`status,
			COUNT(*) AS count,
			COALESCE(SUM(total_amount_cents), 0) AS total_cents,
			COALESCE(SUM(amount_paid_cents), 0) AS paid_cents,
			COALESCE(SUM(amount_due_cents), 0) AS due_cents`).
		Group("status").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) PastDueOutstanding(ctx context.Context, now time.Time) ([]PastDueRow, error) {
	var rows []PastDueRow
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("due_date, amount_due_cents").
		Where("status IN ?", enums.OutstandingPaymentStatuses).
		Where("amount_due_cents > 0").
		Where("due_date < ?", now).
		Scan(&rows).Error
	return rows, err
}

func (r *repository) withInstallments(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Installments", func(db *gorm.DB) *gorm.DB {
		return db.Order("installment_number ASC")
	})
}
