package enums

import "fmt"

// StripeRefundStatus mirrors the processor's own view of a refund.
type StripeRefundStatus string

const (
	StripeRefundPending   StripeRefundStatus = "pending"
	StripeRefundSucceeded StripeRefundStatus = "succeeded"
	StripeRefundFailed    StripeRefundStatus = "failed"
)

var validStripeRefundStatuses = []StripeRefundStatus{
	StripeRefundPending,
	StripeRefundSucceeded,
	StripeRefundFailed,
}

// String implements fmt.Stringer.
func (s StripeRefundStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StripeRefundStatus.
func (s StripeRefundStatus) IsValid() bool {
	for _, candidate := range validStripeRefundStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStripeRefundStatus converts raw input into a StripeRefundStatus.
func ParseStripeRefundStatus(value string) (StripeRefundStatus, error) {
	for _, candidate := range validStripeRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stripe refund status %q", value)
}
