package payments

import (
	"context"
	"time"

	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for payments and their installments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListOutstandingByUser(ctx context.Context, userID uuid.UUID) ([]models.Payment, error)
	ListOutstanding(ctx context.Context, limit int) ([]models.Payment, error)
	ListPastDue(ctx context.Context, now time.Time) ([]models.Payment, error)
	// UpdateIfUnchanged applies updates only while the row still carries the
	// expected status and version; it bumps the version and reports whether a row matched.
	UpdateIfUnchanged(ctx context.Context, id uuid.UUID, status enums.PaymentStatus, version int, updates map[string]any) (bool, error)
	// UpdateInstallmentIfUnchanged applies updates only while the installment
	// still carries the expected status and paid amount.
	UpdateInstallmentIfUnchanged(ctx context.Context, paymentID uuid.UUID, number int, status enums.InstallmentStatus, paidCents int64, updates map[string]any) (bool, error)
	AggregateByStatus(ctx context.Context) ([]StatusAggregate, error)
	PastDueOutstanding(ctx context.Context, now time.Time) ([]PastDueRow, error)
}

// StatusAggregate is one GROUP BY status row.
type StatusAggregate struct {
	Status     enums.PaymentStatus
	Count      int64
	TotalCents int64
	PaidCents  int64
	DueCents   int64
}

// PastDueRow is the slice of a payment needed for the overdue distribution.
type PastDueRow struct {
	DueDate        time.Time
	AmountDueCents int64
}
