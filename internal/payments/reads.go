package payments

import (
	"context"

	"github.com/angelmondragon/payment-ledger/internal/money"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/angelmondragon/payment-ledger/pkg/pagination"
	"github.com/google/uuid"
)

func (s *service) GetUserPendingPayments(ctx context.Context, userID uuid.UUID) ([]models.Payment, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, err := s.repo.ListOutstandingByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payments")
	}
	for i := range rows {
		s.applyLazyOverdue(ctx, &rows[i])
	}
	return rows, nil
}

func (s *service) GetUserTotalPendingAmount(ctx context.Context, userID uuid.UUID) (int64, error) {
	rows, err := s.GetUserPendingPayments(ctx, userID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, row := range rows {
		total += row.AmountDueCents
	}
	return total, nil
}

// GetUserNextPaymentDue picks the earliest open installment or payment; nil when nothing is owed.
func (s *service) GetUserNextPaymentDue(ctx context.Context, userID uuid.UUID) (*NextPaymentDue, error) {
	rows, err := s.GetUserPendingPayments(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var next *NextPaymentDue
	for _, row := range rows {
		candidate := NextPaymentDue{
			PaymentID:      row.ID,
			ServiceName:    row.ServiceName,
			DueDate:        row.DueDate,
			AmountDueCents: row.AmountDueCents,
		}
		if inst := nextUnpaidInstallment(row.Installments); inst != nil {
			number := inst.InstallmentNumber
			candidate.InstallmentNumber = &number
			candidate.DueDate = inst.DueDate
			candidate.AmountDueCents = inst.Outstanding()
		}
		candidate.Overdue = money.IsOverdue(now, candidate.DueDate)
		if next == nil || candidate.DueDate.Before(next.DueDate) {
			c := candidate
			next = &c
		}
	}
	return next, nil
}

func (s *service) GetAdminPendingPayments(ctx context.Context, limit int) ([]models.Payment, error) {
	rows, err := s.repo.ListOutstanding(ctx, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list admin pending payments")
	}
	for i := range rows {
		s.applyLazyOverdue(ctx, &rows[i])
	}
	return rows, nil
}

// applyLazyOverdue flags a past-due payment on read. The row is persisted with a
// conditional write when enabled; losing that race only costs a log line since
// the sweeper converges the record later.
func (s *service) applyLazyOverdue(ctx context.Context, p *models.Payment) {
	now := s.now()
	if !money.IsOverdue(now, p.DueDate) {
		return
	}
	if !p.Status.IsSweepable() && p.Status != enums.PaymentStatusOverdue {
		return
	}

	days := overdueDays(now, p.DueDate)
	if p.Status == enums.PaymentStatusOverdue && sameDays(p.OverdueBy, days) {
		return
	}
	prior, version := p.Status, p.Version
	p.Status = enums.PaymentStatusOverdue
	p.OverdueBy = days
	if !s.persistLazy {
		return
	}

	ok, err := s.repo.UpdateIfUnchanged(ctx, p.ID, prior, version, map[string]any{
		"status":     enums.PaymentStatusOverdue,
		"overdue_by": days,
	})
	logCtx := s.logg.WithPaymentID(ctx, p.ID.String())
	switch {
	case err != nil:
		s.logg.Error(logCtx, "persist lazy overdue", err)
	case !ok:
		s.logg.Warn(logCtx, "lazy overdue lost a concurrent update")
	default:
		p.Version = version + 1
		if prior != enums.PaymentStatusOverdue {
			s.recordTransition(prior, enums.PaymentStatusOverdue)
		}
	}
}
