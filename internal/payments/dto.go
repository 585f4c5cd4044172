package payments

import (
	"time"

	"github.com/angelmondragon/payment-ledger/internal/money"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreatePaymentInput carries the order data needed to open a payment obligation.
type CreatePaymentInput struct {
	UserID        uuid.UUID
	OrderID       uuid.UUID
	ServiceName   string
	ServiceType   string
	TotalCents    int64
	PlanType      enums.PaymentPlanType
	DueDate       *time.Time
	PaymentMethod *string
	ActorID       *uuid.UUID
}

// UpdateStatusInput requests a status change, optionally recording the amount paid so far.
type UpdateStatusInput struct {
	PaymentID       uuid.UUID
	Status          enums.PaymentStatus
	AmountPaidCents *int64
	ActorID         *uuid.UUID
}

// UpdateInstallmentInput sets the paid amount of one installment.
type UpdateInstallmentInput struct {
	PaymentID         uuid.UUID
	InstallmentNumber int
	PaidAmountCents   int64
	ActorID           *uuid.UUID
}

// NextPaymentDue is the earliest outstanding obligation of a user.
type NextPaymentDue struct {
	PaymentID         uuid.UUID `json:"payment_id"`
	ServiceName       string    `json:"service_name"`
	InstallmentNumber *int      `json:"installment_number,omitempty"`
	DueDate           time.Time `json:"due_date"`
	AmountDueCents    int64     `json:"amount_due_cents"`
	Overdue           bool      `json:"overdue"`
}

// StatusSummary is one row of the admin stats breakdown.
type StatusSummary struct {
	Status     enums.PaymentStatus `json:"status"`
	Count      int64               `json:"count"`
	TotalCents int64               `json:"total_cents"`
	PaidCents  int64               `json:"paid_cents"`
	DueCents   int64               `json:"due_cents"`
}

// OverdueBucket groups outstanding past-due payments by days overdue.
type OverdueBucket struct {
	Label          string `json:"label"`
	Count          int64  `json:"count"`
	AmountDueCents int64  `json:"amount_due_cents"`
}

// PaymentStats is computed on demand; it never fails, errors degrade to zeros.
type PaymentStats struct {
	TotalPayments  int64           `json:"total_payments"`
	TotalCents     int64           `json:"total_cents"`
	PaidCents      int64           `json:"paid_cents"`
	DueCents       int64           `json:"due_cents"`
	ByStatus       []StatusSummary `json:"by_status"`
	OverdueBuckets []OverdueBucket `json:"overdue_buckets"`
}

// SweepResult reports what one overdue sweep changed.
type SweepResult struct {
	Scanned            int `json:"scanned"`
	PaymentsMarked     int `json:"payments_marked"`
	PaymentsRefreshed  int `json:"payments_refreshed"`
	InstallmentsMarked int `json:"installments_marked"`
	Failed             int `json:"failed"`
}

// PaymentView is the API shape of a payment; amounts are major-unit decimals.
type PaymentView struct {
	ID              uuid.UUID             `json:"id"`
	UserID          uuid.UUID             `json:"user_id"`
	OrderID         uuid.UUID             `json:"order_id"`
	ServiceName     string                `json:"service_name"`
	ServiceType     string                `json:"service_type"`
	PaymentMethod   *string               `json:"payment_method,omitempty"`
	TotalAmount     decimal.Decimal       `json:"total_amount"`
	AmountPaid      decimal.Decimal       `json:"amount_paid"`
	AmountDue       decimal.Decimal       `json:"amount_due"`
	ProgressPercent decimal.Decimal       `json:"progress_percent"`
	PlanType        enums.PaymentPlanType `json:"plan_type"`
	Status          enums.PaymentStatus   `json:"status"`
	DueDate         time.Time             `json:"due_date"`
	OverdueBy       *int                  `json:"overdue_by,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	Installments    []InstallmentView     `json:"installments,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type InstallmentView struct {
	InstallmentNumber int                     `json:"installment_number"`
	DueDate           time.Time               `json:"due_date"`
	Amount            decimal.Decimal         `json:"amount"`
	PaidAmount        decimal.Decimal         `json:"paid_amount"`
	Status            enums.InstallmentStatus `json:"status"`
	PaidAt            *time.Time              `json:"paid_at,omitempty"`
	OverdueBy         *int                    `json:"overdue_by,omitempty"`
}

// NewPaymentView converts a stored payment into its API shape.
func NewPaymentView(p models.Payment) PaymentView {
	view := PaymentView{
		ID:              p.ID,
		UserID:          p.UserID,
		OrderID:         p.OrderID,
		ServiceName:     p.ServiceName,
		ServiceType:     p.ServiceType,
		PaymentMethod:   p.PaymentMethod,
		TotalAmount:     money.FromCents(p.TotalAmountCents),
		AmountPaid:      money.FromCents(p.AmountPaidCents),
		AmountDue:       money.FromCents(p.AmountDueCents),
		ProgressPercent: money.ProgressPercent(p.AmountPaidCents, p.TotalAmountCents),
		PlanType:        p.PlanType,
		Status:          p.Status,
		DueDate:         p.DueDate,
		OverdueBy:       p.OverdueBy,
		CompletedAt:     p.CompletedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	for _, inst := range p.Installments {
		view.Installments = append(view.Installments, InstallmentView{
			InstallmentNumber: inst.InstallmentNumber,
			DueDate:           inst.DueDate,
			Amount:            money.FromCents(inst.AmountCents),
			PaidAmount:        money.FromCents(inst.PaidAmountCents),
			Status:            inst.Status,
			PaidAt:            inst.PaidAt,
			OverdueBy:         inst.OverdueBy,
		})
	}
	return view
}

// NewPaymentViews converts a slice of payments.
func NewPaymentViews(rows []models.Payment) []PaymentView {
	out := make([]PaymentView, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewPaymentView(row))
	}
	return out
}
