package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payment-ledger/pkg/enums"
)

// RefundStatusEntry is one append-only audit row for a refund request.
type RefundStatusEntry struct {
	ID              uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	RefundRequestID uuid.UUID                 `gorm:"column:refund_request_id;type:uuid;not null;index"`
	Status          enums.RefundRequestStatus `gorm:"column:status;type:text;not null"`
	ChangedBy       string                    `gorm:"column:changed_by;not null"`
	Reason          string                    `gorm:"column:reason;not null"`
	CreatedAt       time.Time                 `gorm:"column:created_at;not null"`
}

func (RefundStatusEntry) TableName() string { return "refund_status_history" }

func (e *RefundStatusEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}
