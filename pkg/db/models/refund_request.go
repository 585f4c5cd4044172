package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payment-ledger/pkg/enums"
)

// RefundRequest references the original charge by its processor id, not by payment id.
type RefundRequest struct {
	ID                  uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	UserID              uuid.UUID                 `gorm:"column:user_id;type:uuid;not null"`
	PaymentIntentID     string                    `gorm:"column:payment_intent_id;not null"`
	AmountCents         int64                     `gorm:"column:amount_cents;not null"`
	ServiceName         string                    `gorm:"column:service_name;not null"`
	ServiceType         string                    `gorm:"column:service_type;not null"`
	Reason              enums.RefundReason        `gorm:"column:reason;type:text;not null"`
	UserMessage         *string                   `gorm:"column:user_message"`
	Status              enums.RefundRequestStatus `gorm:"column:status;type:text;not null"`
	AdminNotes          *string                   `gorm:"column:admin_notes"`
	AdminID             *uuid.UUID                `gorm:"column:admin_id;type:uuid"`
	RefundIntentID      *string                   `gorm:"column:refund_intent_id;uniqueIndex"`
	RefundedAmountCents *int64                    `gorm:"column:refunded_amount_cents"`
	RefundMethod        *string                   `gorm:"column:refund_method"`
	StripeRefundStatus  *enums.StripeRefundStatus `gorm:"column:stripe_refund_status;type:text"`
	StripeRefundError   *string                   `gorm:"column:stripe_refund_error"`
	ReviewedAt          *time.Time                `gorm:"column:reviewed_at"`
	ProcessedAt         *time.Time                `gorm:"column:processed_at"`
	CompletedAt         *time.Time                `gorm:"column:completed_at"`
	ProcessingToken     *string                   `gorm:"column:processing_token" json:"-"`
	ProcessingClaimedAt *time.Time                `gorm:"column:processing_claimed_at" json:"-"`
	Version             int                       `gorm:"column:version;not null;default:1"`
	CreatedAt           time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (RefundRequest) TableName() string { return "refund_requests" }

func (r *RefundRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}

// HasLiveClaim reports whether a ProcessRefund call still owns the request.
func (r RefundRequest) HasLiveClaim(now time.Time, ttl time.Duration) bool {
	if r.ProcessingToken == nil || r.ProcessingClaimedAt == nil {
		return false
	}
	return now.Before(r.ProcessingClaimedAt.Add(ttl))
}
