package payments

import (
	"errors"
	"time"

	"github.com/angelmondragon/payment-ledger/internal/money"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"gorm.io/gorm"
)

// deriveStatus lets the amounts override the requested status: nothing due
// means completed, a partial payment means partially_paid unless the caller
// is flagging the payment overdue or cancelling it.
func deriveStatus(requested enums.PaymentStatus, paidCents, totalCents int64) (enums.PaymentStatus, error) {
	due := totalCents - paidCents
	if due <= 0 {
		return enums.PaymentStatusCompleted, nil
	}
	if paidCents > 0 {
		if requested == enums.PaymentStatusOverdue || requested == enums.PaymentStatusCancelled {
			return requested, nil
		}
		return enums.PaymentStatusPartiallyPaid, nil
	}
	if requested == enums.PaymentStatusCompleted || requested == enums.PaymentStatusPartiallyPaid {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "status does not match the amount paid").
			WithDetails(map[string]any{"status": requested, "amount_paid_cents": paidCents})
	}
	return requested, nil
}

// nextUnpaidInstallment returns the earliest installment with money outstanding.
func nextUnpaidInstallment(installments []models.PaymentInstallment) *models.PaymentInstallment {
	var next *models.PaymentInstallment
	for i := range installments {
		inst := &installments[i]
		if inst.Outstanding() == 0 {
			continue
		}
		if next == nil || inst.DueDate.Before(next.DueDate) {
			next = inst
		}
	}
	return next
}

func overdueDays(now, due time.Time) *int {
	days := money.DaysOverdue(now, due)
	if days == 0 {
		return nil
	}
	return &days
}

func sameDays(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func loadError(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
