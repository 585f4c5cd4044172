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
	"github.com/angelmondragon/payment-ledger/pkg/logger"
)

// AdminRefundService describes the refund workflow methods behind the admin routes.
type AdminRefundService interface {
	GetRefundRequestByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	GetPendingRefundRequests(ctx context.Context) ([]models.RefundRequest, error)
	GetRefundRequestsByStatus(ctx context.Context, status enums.RefundRequestStatus) ([]models.RefundRequest, error)
	ListStatusHistory(ctx context.Context, id uuid.UUID) ([]models.RefundStatusEntry, error)
	GetRefundStats(ctx context.Context, period refunds.StatsPeriod) refunds.RefundStats
	ReviewRefundRequest(ctx context.Context, input refunds.ReviewInput) (*models.RefundRequest, error)
	ProcessRefund(ctx context.Context, input refunds.ProcessInput) (*models.RefundRequest, error)
}

type reviewRefundRequest struct {
	Decision   string  `json:"decision" validate:"required,oneof=approved denied"`
	AdminNotes *string `json:"admin_notes,omitempty" validate:"omitempty,max=2000"`
}

type processRefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty" validate:"omitempty,decimal_positive"`
}

// AdminRefundsPending lists the review and processing queue, oldest first.
func AdminRefundsPending(svc AdminRefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.GetPendingRefundRequests(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, refunds.NewRefundRequestViews(rows))
	}
}

// AdminRefundsByStatus requires ?status=.
func AdminRefundsByStatus(svc AdminRefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := validators.ParseQueryEnum(r, "status", enums.ParseRefundRequestStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.GetRefundRequestsByStatus(r.Context(), status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, refunds.NewRefundRequestViews(rows))
	}
}

func AdminRefundStats(svc AdminRefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		period, err := validators.ParseQueryEnum(r, "period", refunds.ParseStatsPeriod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, svc.GetRefundStats(r.Context(), period))
	}
}

func AdminRefundGet(svc AdminRefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		responses.WriteSuccess(w, refunds.NewRefundRequestView(*req))
	}
}

func AdminRefundHistory(svc AdminRefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refundID, err := validators.ParseUUIDParam(r, "refundId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.ListStatusHistory(r.Context(), refundID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, refunds.NewStatusEntryViews(entries))
	}
}

func AdminRefundReview(svc AdminRefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refundID, err := validators.ParseUUIDParam(r, "refundId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reviewRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req, err := svc.ReviewRefundRequest(r.Context(), refunds.ReviewInput{
			RefundRequestID: refundID,
			AdminID:         adminID,
			Decision:        enums.RefundRequestStatus(payload.Decision),
			AdminNotes:      payload.AdminNotes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refunds.NewRefundRequestView(*req))
	}
}

// AdminRefundProcess hands an approved request to the processor. An empty
// body refunds the full requested amount.
func AdminRefundProcess(svc AdminRefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refundID, err := validators.ParseUUIDParam(r, "refundId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := refunds.ProcessInput{RefundRequestID: refundID, AdminID: adminID}
		if r.ContentLength != 0 {
			var payload processRefundRequest
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if payload.Amount != nil {
				cents, err := amountToCents(*payload.Amount, "amount")
				if err != nil {
					responses.WriteError(r.Context(), logg, w, err)
					return
				}
				input.RefundAmountCents = &cents
			}
		}

		req, err := svc.ProcessRefund(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refunds.NewRefundRequestView(*req))
	}
}
