package money

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// ScheduledInstallment is one generated row of an installment plan.
type ScheduledInstallment struct {
	Number      int
	DueDate     time.Time
	AmountCents int64
}

// CreateInstallmentSchedule splits totalCents into n equal installments, the
// last one absorbing the remainder, due every intervalDays starting
// intervalDays after start. Due dates are UTC with second precision.
func CreateInstallmentSchedule(n int, totalCents int64, start time.Time, intervalDays int) ([]ScheduledInstallment, error) {
	if n <= 0 {
		return nil, fmt.Errorf("installment count must be positive, got %d", n)
	}
	if totalCents <= 0 {
		return nil, fmt.Errorf("total must be positive, got %d", totalCents)
	}
	if intervalDays <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", intervalDays)
	}
	if int64(n) > totalCents {
		return nil, fmt.Errorf("cannot split %d cents into %d installments", totalCents, n)
	}

	dueDates, err := dueDates(n, start, intervalDays)
	if err != nil {
		return nil, err
	}

	base := totalCents / int64(n)
	remainder := totalCents - base*int64(n)

	out := make([]ScheduledInstallment, 0, n)
	for i, due := range dueDates {
		amount := base
		if i == n-1 {
			amount += remainder
		}
		out = append(out, ScheduledInstallment{
			Number:      i + 1,
			DueDate:     due,
			AmountCents: amount,
		})
	}
	return out, nil
}

func dueDates(n int, start time.Time, intervalDays int) ([]time.Time, error) {
	first := start.UTC().Truncate(time.Second).AddDate(0, 0, intervalDays)
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: intervalDays,
		Count:    n,
		Dtstart:  first,
	})
	if err != nil {
		return nil, fmt.Errorf("build installment recurrence: %w", err)
	}
	dates := rule.All()
	if len(dates) != n {
		return nil, fmt.Errorf("recurrence produced %d dates, expected %d", len(dates), n)
	}
	return dates, nil
}
