package payments

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/payment-ledger/internal/money"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

var errSweepRaced = errors.New("payment changed during sweep")

type sweepOutcome struct {
	marked       bool
	refreshed    bool
	installments int
}

// SweepOverduePayments flags past-due payments and installments. Each payment
// is written in its own transaction; one failing record does not stop the batch.
func (s *service) SweepOverduePayments(ctx context.Context) (SweepResult, error) {
	now := s.now()
	result := SweepResult{}

	candidates, err := s.repo.ListPastDue(ctx, now)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list past due payments")
	}
	result.Scanned = len(candidates)

	var errs error
	for i := range candidates {
		payment := &candidates[i]
		outcome, err := s.sweepPayment(ctx, now, payment)
		if errors.Is(err, errSweepRaced) {
			fresh, loadErr := s.repo.FindByID(ctx, payment.ID)
			if loadErr != nil {
				err = loadError(loadErr, "reload payment")
			} else {
				outcome, err = s.sweepPayment(ctx, now, fresh)
			}
		}
		if err != nil {
			if errors.Is(err, errSweepRaced) {
				err = pkgerrors.Newf(pkgerrors.CodeConcurrency, "payment %s kept changing during sweep", payment.ID)
			}
			result.Failed++
			errs = multierr.Append(errs, err)
			s.logg.Error(s.logg.WithPaymentID(ctx, payment.ID.String()), "overdue sweep failed for payment", err)
			continue
		}
		if outcome.marked {
			result.PaymentsMarked++
		}
		if outcome.refreshed {
			result.PaymentsRefreshed++
		}
		result.InstallmentsMarked += outcome.installments
	}

	fields := map[string]any{
		"scanned":             result.Scanned,
		"payments_marked":     result.PaymentsMarked,
		"payments_refreshed":  result.PaymentsRefreshed,
		"installments_marked": result.InstallmentsMarked,
		"failed":              result.Failed,
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "overdue sweep finished")
	return result, errs
}

func (s *service) sweepPayment(ctx context.Context, now time.Time, payment *models.Payment) (sweepOutcome, error) {
	outcome := sweepOutcome{}
	if !money.IsOverdue(now, payment.DueDate) {
		return outcome, nil
	}
	if !payment.Status.IsSweepable() && payment.Status != enums.PaymentStatusOverdue {
		return outcome, nil
	}

	prior := payment.Status
	days := overdueDays(now, payment.DueDate)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		for _, inst := range payment.Installments {
			if !money.IsOverdue(now, inst.DueDate) || inst.Outstanding() == 0 {
				continue
			}
			instDays := overdueDays(now, inst.DueDate)
			if inst.Status == enums.InstallmentStatusOverdue && sameDays(inst.OverdueBy, instDays) {
				continue
			}
			if !inst.Status.IsSweepable() && inst.Status != enums.InstallmentStatusOverdue {
				continue
			}
			ok, err := repo.UpdateInstallmentIfUnchanged(ctx, payment.ID, inst.InstallmentNumber, inst.Status, inst.PaidAmountCents, map[string]any{
				"status":     enums.InstallmentStatusOverdue,
				"overdue_by": instDays,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark installment overdue")
			}
			if !ok {
				return errSweepRaced
			}
			if inst.Status != enums.InstallmentStatusOverdue {
				outcome.installments++
			}
		}

		if prior == enums.PaymentStatusOverdue && sameDays(payment.OverdueBy, days) {
			return nil
		}
		ok, err := repo.UpdateIfUnchanged(ctx, payment.ID, prior, payment.Version, map[string]any{
			"status":     enums.PaymentStatusOverdue,
			"overdue_by": days,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment overdue")
		}
		if !ok {
			return errSweepRaced
		}
		if prior == enums.PaymentStatusOverdue {
			outcome.refreshed = true
			return nil
		}

		outcome.marked = true
		payment.Status = enums.PaymentStatusOverdue
		payment.OverdueBy = days
		return s.notify(ctx, tx, enums.EventPaymentStatusChanged, payment, nil)
	})
	if err != nil {
		return sweepOutcome{}, err
	}
	if outcome.marked {
		s.recordTransition(prior, enums.PaymentStatusOverdue)
	}
	return outcome, nil
}
