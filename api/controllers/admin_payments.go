package controllers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payment-ledger/api/responses"
	"github.com/angelmondragon/payment-ledger/api/validators"
	"github.com/angelmondragon/payment-ledger/internal/payments"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
	"github.com/angelmondragon/payment-ledger/pkg/pagination"
)

// AdminPaymentService describes the payment methods behind the admin routes.
type AdminPaymentService interface {
	GetAdminPendingPayments(ctx context.Context, limit int) ([]models.Payment, error)
	GetPaymentStats(ctx context.Context) payments.PaymentStats
	UpdatePaymentStatus(ctx context.Context, input payments.UpdateStatusInput) (*models.Payment, error)
	UpdateInstallmentPayment(ctx context.Context, input payments.UpdateInstallmentInput) (*models.Payment, error)
	SweepOverduePayments(ctx context.Context) (payments.SweepResult, error)
}

type updatePaymentStatusRequest struct {
	Status     string           `json:"status" validate:"required,oneof=pending scheduled partially_paid completed overdue cancelled"`
	AmountPaid *decimal.Decimal `json:"amount_paid,omitempty" validate:"omitempty,decimal_nonneg"`
}

type updateInstallmentRequest struct {
	PaidAmount decimal.Decimal `json:"paid_amount" validate:"decimal_nonneg"`
}

func AdminPaymentsPending(svc AdminPaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.GetAdminPendingPayments(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, payments.NewPaymentViews(rows))
	}
}

// AdminPaymentStats never fails; the service degrades to zero values.
func AdminPaymentStats(svc AdminPaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, svc.GetPaymentStats(r.Context()))
	}
}

func AdminPaymentUpdateStatus(svc AdminPaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updatePaymentStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := payments.UpdateStatusInput{
			PaymentID: paymentID,
			Status:    enums.PaymentStatus(payload.Status),
			ActorID:   &adminID,
		}
		if payload.AmountPaid != nil {
			cents, err := amountToCents(*payload.AmountPaid, "amount_paid")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			input.AmountPaidCents = &cents
		}

		payment, err := svc.UpdatePaymentStatus(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payments.NewPaymentView(*payment))
	}
}

func AdminPaymentUpdateInstallment(svc AdminPaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		number, err := validators.ParsePositiveIntParam(r, "number")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateInstallmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cents, err := amountToCents(payload.PaidAmount, "paid_amount")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.UpdateInstallmentPayment(r.Context(), payments.UpdateInstallmentInput{
			PaymentID:         paymentID,
			InstallmentNumber: number,
			PaidAmountCents:   cents,
			ActorID:           &adminID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payments.NewPaymentView(*payment))
	}
}

// AdminSweepOverdue runs the overdue sweep on demand. Partial failures are
// reported with the counts of what did succeed.
func AdminSweepOverdue(svc AdminPaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.SweepOverduePayments(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "overdue sweep incomplete").
				WithDetails(map[string]any{"result": result}))
			return
		}
		responses.WriteSuccess(w, result)
	}
}
