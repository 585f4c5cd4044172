package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payment-ledger/api/middleware"
	"github.com/angelmondragon/payment-ledger/api/responses"
	"github.com/angelmondragon/payment-ledger/api/validators"
	"github.com/angelmondragon/payment-ledger/internal/money"
	"github.com/angelmondragon/payment-ledger/internal/payments"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
)

// PaymentService describes the payment ledger methods used by the HTTP controllers.
type PaymentService interface {
	CreatePayment(ctx context.Context, input payments.CreatePaymentInput) (*models.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetUserPendingPayments(ctx context.Context, userID uuid.UUID) ([]models.Payment, error)
	GetUserTotalPendingAmount(ctx context.Context, userID uuid.UUID) (int64, error)
	GetUserNextPaymentDue(ctx context.Context, userID uuid.UUID) (*payments.NextPaymentDue, error)
}

type createPaymentRequest struct {
	OrderID       string          `json:"order_id" validate:"required,uuid"`
	ServiceName   string          `json:"service_name" validate:"required,max=200"`
	ServiceType   string          `json:"service_type" validate:"max=100"`
	TotalAmount   decimal.Decimal `json:"total_amount" validate:"decimal_positive"`
	PlanType      string          `json:"plan_type" validate:"omitempty,oneof=one_time installment subscription"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	PaymentMethod *string         `json:"payment_method,omitempty" validate:"omitempty,max=64"`
}

type pendingTotalResponse struct {
	TotalPending      decimal.Decimal `json:"total_pending"`
	TotalPendingCents int64           `json:"total_pending_cents"`
}

// PaymentCreate opens a payment obligation for the caller.
func PaymentCreate(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		totalCents, err := amountToCents(payload.TotalAmount, "total_amount")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan := enums.PaymentPlanOneTime
		if payload.PlanType != "" {
			plan = enums.PaymentPlanType(payload.PlanType)
		}

		actor := userID
		payment, err := svc.CreatePayment(r.Context(), payments.CreatePaymentInput{
			UserID:        userID,
			OrderID:       uuid.MustParse(payload.OrderID),
			ServiceName:   payload.ServiceName,
			ServiceType:   strings.TrimSpace(payload.ServiceType),
			TotalCents:    totalCents,
			PlanType:      plan,
			DueDate:       payload.DueDate,
			PaymentMethod: payload.PaymentMethod,
			ActorID:       &actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payments.NewPaymentView(*payment))
	}
}

// PaymentGet returns one of the caller's payments. Other users' payments read as not found.
func PaymentGet(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.GetPayment(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payment.UserID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
			return
		}
		responses.WriteSuccess(w, payments.NewPaymentView(*payment))
	}
}

func PaymentListPending(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.GetUserPendingPayments(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, payments.NewPaymentViews(rows))
	}
}

func PaymentPendingTotal(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		total, err := svc.GetUserTotalPendingAmount(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pendingTotalResponse{TotalPending: money.FromCents(total), TotalPendingCents: total})
	}
}

// PaymentNextDue returns null data when nothing is outstanding.
func PaymentNextDue(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		next, err := svc.GetUserNextPaymentDue(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, next)
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return id, nil
}

func amountToCents(amount decimal.Decimal, field string) (int64, error) {
	cents, err := money.ToCents(amount)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount").
			WithDetails(map[string]any{"field": field})
	}
	return cents, nil
}
