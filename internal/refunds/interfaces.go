package refunds

import (
	"context"
	"time"

	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists refund requests and their audit trail. History rows
// can only be appended and listed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, req *models.RefundRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	FindByRefundIntentID(ctx context.Context, refundIntentID string) (*models.RefundRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.RefundRequest, error)
	ListByStatuses(ctx context.Context, statuses []enums.RefundRequestStatus, oldestFirst bool) ([]models.RefundRequest, error)
	// UpdateGuarded applies updates only while every field set on the guard
	// still matches; it bumps the version and reports whether a row matched.
	UpdateGuarded(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error)
	// Claim takes the processing token of an approved request whose previous
	// claim is absent or older than staleBefore.
	Claim(ctx context.Context, id uuid.UUID, token string, now, staleBefore time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error
	AppendHistory(ctx context.Context, entry *models.RefundStatusEntry) error
	ListHistory(ctx context.Context, refundRequestID uuid.UUID) ([]models.RefundStatusEntry, error)
	CountByStatus(ctx context.Context, since *time.Time) ([]StatusCount, error)
	SumRefunded(ctx context.Context, since *time.Time) (int64, error)
}

// Guard is the precondition of a conditional write. Status is always checked.
type Guard struct {
	Status             enums.RefundRequestStatus
	Version            *int
	ProcessingToken    *string
	StripeRefundStatus *enums.StripeRefundStatus
}

// StatusCount is one GROUP BY status row.
type StatusCount struct {
	Status      enums.RefundRequestStatus
	Count       int64
	AmountCents int64
}
