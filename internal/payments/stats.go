package payments

import (
	"context"

	"github.com/angelmondragon/payment-ledger/internal/money"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
)

type overdueRange struct {
	label    string
	min, max int
}

// max 0 means unbounded.
var overdueRanges = []overdueRange{
	{label: "1-7", min: 1, max: 7},
	{label: "8-30", min: 8, max: 30},
	{label: "31-60", min: 31, max: 60},
	{label: "61-90", min: 61, max: 90},
	{label: "90+", min: 91},
}

func (s *service) GetPaymentStats(ctx context.Context) PaymentStats {
	stats := emptyStats()

	aggregates, err := s.repo.AggregateByStatus(ctx)
	if err != nil {
		s.logg.Error(ctx, "payment stats: aggregate by status", err)
	} else {
		index := make(map[enums.PaymentStatus]int, len(stats.ByStatus))
		for i, row := range stats.ByStatus {
			index[row.Status] = i
		}
		for _, agg := range aggregates {
			i, ok := index[agg.Status]
			if !ok {
				continue
			}
			stats.ByStatus[i] = StatusSummary{
				Status:     agg.Status,
				Count:      agg.Count,
				TotalCents: agg.TotalCents,
				PaidCents:  agg.PaidCents,
				DueCents:   agg.DueCents,
			}
			stats.TotalPayments += agg.Count
			stats.TotalCents += agg.TotalCents
			stats.PaidCents += agg.PaidCents
			stats.DueCents += agg.DueCents
		}
	}

	now := s.now()
	rows, err := s.repo.PastDueOutstanding(ctx, now)
	if err != nil {
		s.logg.Error(ctx, "payment stats: overdue distribution", err)
		return stats
	}
	for _, row := range rows {
		days := money.DaysOverdue(now, row.DueDate)
		for i, r := range overdueRanges {
			if days < r.min || (r.max > 0 && days > r.max) {
				continue
			}
			stats.OverdueBuckets[i].Count++
			stats.OverdueBuckets[i].AmountDueCents += row.AmountDueCents
			break
		}
	}
	return stats
}

func emptyStats() PaymentStats {
	stats := PaymentStats{}
	for _, status := range enums.PaymentStatuses() {
		stats.ByStatus = append(stats.ByStatus, StatusSummary{Status: status})
	}
	for _, r := range overdueRanges {
		stats.OverdueBuckets = append(stats.OverdueBuckets, OverdueBucket{Label: r.label})
	}
	return stats
}
