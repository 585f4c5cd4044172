package enums

import "fmt"

// RefundReason is the user-selected reason attached to a refund request.
type RefundReason string

const (
	RefundReasonServiceUnsatisfactory RefundReason = "service_unsatisfactory"
	RefundReasonDuplicateCharge       RefundReason = "duplicate_charge"
	RefundReasonServiceNotCompleted   RefundReason = "service_not_completed"
	RefundReasonChangedMind           RefundReason = "changed_mind"
	RefundReasonOther                 RefundReason = "other"
)

var validRefundReasons = []RefundReason{
	RefundReasonServiceUnsatisfactory,
	RefundReasonDuplicateCharge,
	RefundReasonServiceNotCompleted,
	RefundReasonChangedMind,
	RefundReasonOther,
}

// String implements fmt.Stringer.
func (r RefundReason) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundReason.
func (r RefundReason) IsValid() bool {
	for _, candidate := range validRefundReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundReason converts raw input into a RefundReason.
func ParseRefundReason(value string) (RefundReason, error) {
	for _, candidate := range validRefundReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund reason %q", value)
}
