package enums

import "fmt"

// RefundRequestStatus is the workflow state of a refund request.
type RefundRequestStatus string

const (
	RefundStatusPending   RefundRequestStatus = "pending"
	RefundStatusApproved  RefundRequestStatus = "approved"
	RefundStatusDenied    RefundRequestStatus = "denied"
	RefundStatusProcessed RefundRequestStatus = "processed"
	RefundStatusFailed    RefundRequestStatus = "failed"
)

var validRefundStatuses = []RefundRequestStatus{
	RefundStatusPending,
	RefundStatusApproved,
	RefundStatusDenied,
	RefundStatusProcessed,
	RefundStatusFailed,
}

// RefundStatuses returns every known status in workflow order.
func RefundStatuses() []RefundRequestStatus {
	out := make([]RefundRequestStatus, len(validRefundStatuses))
	copy(out, validRefundStatuses)
	return out
}

// String implements fmt.Stringer.
func (r RefundRequestStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundRequestStatus.
func (r RefundRequestStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundRequestStatus converts raw input into a RefundRequestStatus.
func ParseRefundRequestStatus(value string) (RefundRequestStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}
