package enums

import "fmt"

// PaymentStatus tracks where a payment obligation stands.
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusScheduled     PaymentStatus = "scheduled"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusCompleted     PaymentStatus = "completed"
	PaymentStatusOverdue       PaymentStatus = "overdue"
	PaymentStatusCancelled     PaymentStatus = "cancelled"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusScheduled,
	PaymentStatusPartiallyPaid,
	PaymentStatusCompleted,
	PaymentStatusOverdue,
	PaymentStatusCancelled,
}

// OutstandingPaymentStatuses still expect money from the user.
var OutstandingPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusScheduled,
	PaymentStatusPartiallyPaid,
	PaymentStatusOverdue,
}

// SweepablePaymentStatuses can be flipped to overdue once the due date passes.
var SweepablePaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusScheduled,
	PaymentStatusPartiallyPaid,
}

// PaymentStatuses returns every known status in display order.
func PaymentStatuses() []PaymentStatus {
	out := make([]PaymentStatus, len(validPaymentStatuses))
	copy(out, validPaymentStatuses)
	return out
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsFinal reports whether the payment can no longer change.
func (p PaymentStatus) IsFinal() bool {
	return p == PaymentStatusCompleted || p == PaymentStatusCancelled
}

// IsSweepable reports whether the sweeper may mark the payment overdue.
func (p PaymentStatus) IsSweepable() bool {
	for _, candidate := range SweepablePaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
