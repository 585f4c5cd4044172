package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payment-ledger/pkg/enums"
)

// Payment is the payment obligation of one service order. Rows are never deleted.
type Payment struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID           uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	OrderID          uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	ServiceName      string                `gorm:"column:service_name;not null"`
	ServiceType      string                `gorm:"column:service_type;not null"`
	PaymentMethod    *string               `gorm:"column:payment_method"`
	TotalAmountCents int64                 `gorm:"column:total_amount_cents;not null"`
	AmountPaidCents  int64                 `gorm:"column:amount_paid_cents;not null;default:0"`
	AmountDueCents   int64                 `gorm:"column:amount_due_cents;not null"`
	PlanType         enums.PaymentPlanType `gorm:"column:plan_type;type:text;not null"`
	Status           enums.PaymentStatus   `gorm:"column:status;type:text;not null"`
	DueDate          time.Time             `gorm:"column:due_date;not null"`
	OverdueBy        *int                  `gorm:"column:overdue_by"`
	CompletedAt      *time.Time            `gorm:"column:completed_at"`
	Version          int                   `gorm:"column:version;not null;default:1"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`

	Installments []PaymentInstallment `gorm:"foreignKey:PaymentID;references:ID"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return nil
}
