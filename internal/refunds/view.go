package refunds

import (
	"time"

	"github.com/angelmondragon/payment-ledger/internal/money"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundRequestView is the API shape of a refund request; amounts are
// major-unit decimals and claim bookkeeping is never exposed.
type RefundRequestView struct {
	ID                 uuid.UUID                 `json:"id"`
	UserID             uuid.UUID                 `json:"user_id"`
	PaymentIntentID    string                    `json:"payment_intent_id"`
	Amount             decimal.Decimal           `json:"amount"`
	ServiceName        string                    `json:"service_name"`
	ServiceType        string                    `json:"service_type"`
	Reason             enums.RefundReason        `json:"reason"`
	UserMessage        *string                   `json:"user_message,omitempty"`
	Status             enums.RefundRequestStatus `json:"status"`
	AdminNotes         *string                   `json:"admin_notes,omitempty"`
	AdminID            *uuid.UUID                `json:"admin_id,omitempty"`
	RefundIntentID     *string                   `json:"refund_intent_id,omitempty"`
	RefundedAmount     *decimal.Decimal          `json:"refunded_amount,omitempty"`
	RefundMethod       *string                   `json:"refund_method,omitempty"`
	StripeRefundStatus *enums.StripeRefundStatus `json:"stripe_refund_status,omitempty"`
	StripeRefundError  *string                   `json:"stripe_refund_error,omitempty"`
	ReviewedAt         *time.Time                `json:"reviewed_at,omitempty"`
	ProcessedAt        *time.Time                `json:"processed_at,omitempty"`
	CompletedAt        *time.Time                `json:"completed_at,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

type StatusEntryView struct {
	Status    enums.RefundRequestStatus `json:"status"`
	ChangedBy string                    `json:"changed_by"`
	Reason    string                    `json:"reason"`
	CreatedAt time.Time                 `json:"created_at"`
}

func NewRefundRequestView(r models.RefundRequest) RefundRequestView {
	view := RefundRequestView{
		ID:                 r.ID,
		UserID:             r.UserID,
		PaymentIntentID:    r.PaymentIntentID,
		Amount:             money.FromCents(r.AmountCents),
		ServiceName:        r.ServiceName,
		ServiceType:        r.ServiceType,
		Reason:             r.Reason,
		UserMessage:        r.UserMessage,
		Status:             r.Status,
		AdminNotes:         r.AdminNotes,
		AdminID:            r.AdminID,
		RefundIntentID:     r.RefundIntentID,
		RefundMethod:       r.RefundMethod,
		StripeRefundStatus: r.StripeRefundStatus,
		StripeRefundError:  r.StripeRefundError,
		ReviewedAt:         r.ReviewedAt,
		ProcessedAt:        r.ProcessedAt,
		CompletedAt:        r.CompletedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.RefundedAmountCents != nil {
		amount := money.FromCents(*r.RefundedAmountCents)
		view.RefundedAmount = &amount
	}
	return view
}

func NewRefundRequestViews(rows []models.RefundRequest) []RefundRequestView {
	out := make([]RefundRequestView, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewRefundRequestView(row))
	}
	return out
}

func NewStatusEntryViews(rows []models.RefundStatusEntry) []StatusEntryView {
	out := make([]StatusEntryView, 0, len(rows))
	for _, row := range rows {
		out = append(out, StatusEntryView{
			Status:    row.Status,
			ChangedBy: row.ChangedBy,
			Reason:    row.Reason,
			CreatedAt: row.CreatedAt,
		})
	}
	return out
}
