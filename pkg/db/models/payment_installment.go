package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payment-ledger/pkg/enums"
)

// PaymentInstallment is identified by its ordinal within the owning payment.
type PaymentInstallment struct {
	PaymentID         uuid.UUID               `gorm:"column:payment_id;type:uuid;primaryKey"`
	InstallmentNumber int                     `gorm:"column:installment_number;primaryKey;autoIncrement:false"`
	DueDate           time.Time               `gorm:"column:due_date;not null"`
	AmountCents       int64                   `gorm:"column:amount_cents;not null"`
	PaidAmountCents   int64                   `gorm:"column:paid_amount_cents;not null;default:0"`
	Status            enums.InstallmentStatus `gorm:"column:status;type:text;not null"`
	PaidAt            *time.Time              `gorm:"column:paid_at"`
	OverdueBy         *int                    `gorm:"column:overdue_by"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentInstallment) TableName() string { return "payment_installments" }

// Outstanding returns the unpaid remainder of the installment.
func (i PaymentInstallment) Outstanding() int64 {
	if i.PaidAmountCents >= i.AmountCents {
		return 0
	}
	return i.AmountCents - i.PaidAmountCents
}
