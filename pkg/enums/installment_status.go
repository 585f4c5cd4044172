package enums

import "fmt"

// InstallmentStatus tracks a single scheduled partial payment.
type InstallmentStatus string

const (
	InstallmentStatusPending   InstallmentStatus = "pending"
	InstallmentStatusScheduled InstallmentStatus = "scheduled"
	InstallmentStatusPartial   InstallmentStatus = "partial"
	InstallmentStatusPaid      InstallmentStatus = "paid"
	InstallmentStatusOverdue   InstallmentStatus = "overdue"
)

var validInstallmentStatuses = []InstallmentStatus{
	InstallmentStatusPending,
	InstallmentStatusScheduled,
	InstallmentStatusPartial,
	InstallmentStatusPaid,
	InstallmentStatusOverdue,
}

// SweepableInstallmentStatuses can be flipped to overdue once the due date passes.
var SweepableInstallmentStatuses = []InstallmentStatus{
	InstallmentStatusPending,
	InstallmentStatusScheduled,
	InstallmentStatusPartial,
}

// String implements fmt.Stringer.
func (s InstallmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known InstallmentStatus.
func (s InstallmentStatus) IsValid() bool {
	for _, candidate := range validInstallmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSweepable reports whether the installment may be marked overdue.
func (s InstallmentStatus) IsSweepable() bool {
	for _, candidate := range SweepableInstallmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseInstallmentStatus converts raw input into an InstallmentStatus.
func ParseInstallmentStatus(value string) (InstallmentStatus, error) {
	for _, candidate := range validInstallmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid installment status %q", value)
}
