package refunds

import (
	"context"

	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/google/uuid"
)

func (s *service) GetRefundRequestByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund request id required")
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadError(err, "load refund request")
	}
	return req, nil
}

func (s *service) GetUserRefundRequests(ctx context.Context, userID uuid.UUID) ([]models.RefundRequest, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list user refund requests")
	}
	return rows, nil
}

// GetPendingRefundRequests returns the admin queue: requests awaiting review
// or processing, oldest first.
func (s *service) GetPendingRefundRequests(ctx context.Context) ([]models.RefundRequest, error) {
	rows, err := s.repo.ListByStatuses(ctx, []enums.RefundRequestStatus{enums.RefundStatusPending, enums.RefundStatusApproved}, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending refund requests")
	}
	return rows, nil
}

func (s *service) GetRefundRequestsByStatus(ctx context.Context, status enums.RefundRequestStatus) ([]models.RefundRequest, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund status").
			WithDetails(map[string]any{"status": status})
	}
	rows, err := s.repo.ListByStatuses(ctx, []enums.RefundRequestStatus{status}, false)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refund requests by status")
	}
	return rows, nil
}

func (s *service) ListStatusHistory(ctx context.Context, id uuid.UUID) ([]models.RefundStatusEntry, error) {
	if _, err := s.GetRefundRequestByID(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refund history")
	}
	return rows, nil
}

// GetRefundStats never fails; a failed aggregate leaves its figures at zero.
func (s *service) GetRefundStats(ctx context.Context, period StatsPeriod) RefundStats {
	if period == "" {
		period = PeriodAll
	}
	stats := RefundStats{
		Period:   period,
		ByStatus: make(map[enums.RefundRequestStatus]int64, len(enums.RefundStatuses())),
	}
	for _, status := range enums.RefundStatuses() {
		stats.ByStatus[status] = 0
	}
	since := period.Since(s.now())

	counts, err := s.repo.CountByStatus(ctx, since)
	if err != nil {
		s.logg.Error(ctx, "refund stats: count by status", err)
	} else {
		for _, row := range counts {
			stats.ByStatus[row.Status] = row.Count
			stats.TotalRequested += row.Count
			stats.TotalRequestedCents += row.AmountCents
		}
	}

	refunded, err := s.repo.SumRefunded(ctx, since)
	if err != nil {
		s.logg.Error(ctx, "refund stats: sum refunded", err)
	} else {
		stats.TotalRefundedCents = refunded
	}
	return stats
}
