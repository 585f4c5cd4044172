package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payment-ledger/api/responses"
	"github.com/angelmondragon/payment-ledger/api/validators"
	"github.com/angelmondragon/payment-ledger/internal/refunds"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
)

// RefundService describes the refund workflow methods used by user-facing controllers.
type RefundService interface {
	CreateRefundRequest(ctx context.Context, input refunds.CreateRefundInput) (*models.RefundRequest, error)
	GetRefundRequestByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	GetUserRefundRequests(ctx context.Context, userID uuid.UUID) ([]models.RefundRequest, error)
}

type createRefundRequest struct {
	PaymentIntentID string          `json:"payment_intent_id" validate:"required,max=255"`
	Amount          decimal.Decimal `json:"amount" validate:"decimal_positive"`
	ServiceName     string          `json:"service_name" validate:"required,max=200"`
	ServiceType     string          `json:"service_type" validate:"max=100"`
	Reason          string          `json:"reason" validate:"required,oneof=service_unsatisfactory duplicate_charge service_not_completed changed_mind other"`
	Message         *string         `json:"message,omitempty"`
}

// RefundCreate submits a refund request for the caller.
func RefundCreate(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amountCents, err := amountToCents(payload.Amount, "amount")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req, err := svc.CreateRefundRequest(r.Context(), refunds.CreateRefundInput{
			UserID:          userID,
			PaymentIntentID: payload.PaymentIntentID,
			AmountCents:     amountCents,
			ServiceName:     payload.ServiceName,
			ServiceType:     payload.ServiceType,
			Reason:          enums.RefundReason(payload.Reason),
			UserMessage:     payload.Message,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, refunds.NewRefundRequestView(*req))
	}
}

func RefundListMine(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.GetUserRefundRequests(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, refunds.NewRefundRequestViews(rows))
	}
}

// RefundGet returns one of the caller's refund requests. Other users' requests read as not found.
func RefundGet(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refundID, err := validators.ParseUUIDParam(r, "refundId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		req, err := svc.GetRefundRequestByID(r.Context(), refundID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.UserID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found"))
			return
		}
		responses.WriteSuccess(w, refunds.NewRefundRequestView(*req))
	}
}
