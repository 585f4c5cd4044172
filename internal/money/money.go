// Package money holds the pure arithmetic behind payment plans: cents
// conversion, overdue detection, progress and installment schedules.
package money

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

var (
	hundred = decimal.NewFromInt(100)

	ErrSubCentPrecision = errors.New("amount has more than two decimal places")
	ErrAmountOverflow   = errors.New("amount out of range")
)

// ToCents converts a major-unit decimal into minor units, rejecting sub-cent values.
func ToCents(amount decimal.Decimal) (int64, error) {
	scaled := amount.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrSubCentPrecision
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, ErrAmountOverflow
	}
	return scaled.IntPart(), nil
}

// FromCents renders minor units as a two-place major-unit decimal.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// IsOverdue reports whether due has strictly passed at now.
func IsOverdue(now, due time.Time) bool {
	return now.After(due)
}

// DaysOverdue is the number of started days since due, 0 when not overdue.
func DaysOverdue(now, due time.Time) int {
	if !IsOverdue(now, due) {
		return 0
	}
	elapsed := now.Sub(due)
	days := elapsed / day
	if elapsed%day != 0 {
		days++
	}
	return int(days)
}

// ProgressPercent returns paid/total as a percentage rounded to two places and clamped to 0..100.
func ProgressPercent(paidCents, totalCents int64) decimal.Decimal {
	if totalCents <= 0 {
		return decimal.Zero
	}
	pct := decimal.NewFromInt(paidCents).
		Mul(hundred).
		DivRound(decimal.NewFromInt(totalCents), 2)
	if pct.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

// InstallmentCount is ceil(total/unit); one installment per started unit.
func InstallmentCount(totalCents, unitCents int64) (int, error) {
	if totalCents <= 0 {
		return 0, fmt.Errorf("total must be positive, got %d", totalCents)
	}
	if unitCents <= 0 {
		return 0, fmt.Errorf("installment unit must be positive, got %d", unitCents)
	}
	n := totalCents / unitCents
	if totalCents%unitCents != 0 {
		n++
	}
	return int(n), nil
}
