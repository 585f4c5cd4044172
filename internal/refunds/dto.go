package refunds

import (
	"strings"
	"time"

	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/google/uuid"
)

type CreateRefundInput struct {
	UserID          uuid.UUID
	PaymentIntentID string
	AmountCents     int64
	ServiceName     string
	ServiceType     string
	Reason          enums.RefundReason
	UserMessage     *string
}

// ReviewInput carries an admin decision; Decision is approved or denied.
type ReviewInput struct {
	RefundRequestID uuid.UUID
	AdminID         uuid.UUID
	Decision        enums.RefundRequestStatus
	AdminNotes      *string
}

// ProcessInput defaults to refunding the full original amount.
type ProcessInput struct {
	RefundRequestID   uuid.UUID
	AdminID           uuid.UUID
	RefundAmountCents *int64
}

// ExternalRefundEvent is a processor report about a refund it created.
type ExternalRefundEvent struct {
	RefundIntentID  string
	Outcome         enums.RefundOutcome
	Error           *string
	RefundRequestID *uuid.UUID
}

type StatsPeriod string

const (
	PeriodDay   StatsPeriod = "day"
	PeriodWeek  StatsPeriod = "week"
	PeriodMonth StatsPeriod = "month"
	PeriodYear  StatsPeriod = "year"
	PeriodAll   StatsPeriod = "all"
)

// ParseStatsPeriod defaults an empty value to all.
func ParseStatsPeriod(value string) (StatsPeriod, error) {
	switch p := StatsPeriod(strings.ToLower(strings.TrimSpace(value))); p {
	case "":
		return PeriodAll, nil
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear, PeriodAll:
		return p, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "period must be one of day, week, month, year, all").
		WithDetails(map[string]any{"period": value})
}

// Since returns the window start for the period, nil for all.
func (p StatsPeriod) Since(now time.Time) *time.Time {
	var since time.Time
	switch p {
	case PeriodDay:
		since = now.Add(-24 * time.Hour)
	case PeriodWeek:
		since = now.Add(-7 * 24 * time.Hour)
	case PeriodMonth:
		since = now.AddDate(0, -1, 0)
	case PeriodYear:
		since = now.AddDate(-1, 0, 0)
	default:
		return nil
	}
	return &since
}

type RefundStats struct {
	Period              StatsPeriod                         `json:"period"`
	ByStatus            map[enums.RefundRequestStatus]int64 `json:"by_status"`
	TotalRequested      int64                               `json:"total_requested"`
	TotalRequestedCents int64                               `json:"total_requested_cents"`
	TotalRefundedCents  int64                               `json:"total_refunded_cents"`
}
