package enums

import "fmt"

// PaymentPlanType describes how a payment is collected.
type PaymentPlanType string

const (
	PaymentPlanOneTime      PaymentPlanType = "one_time"
	PaymentPlanInstallment  PaymentPlanType = "installment"
	PaymentPlanSubscription PaymentPlanType = "subscription"
)

var validPaymentPlanTypes = []PaymentPlanType{
	PaymentPlanOneTime,
	PaymentPlanInstallment,
	PaymentPlanSubscription,
}

// String implements fmt.Stringer.
func (p PaymentPlanType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentPlanType.
func (p PaymentPlanType) IsValid() bool {
	for _, candidate := range validPaymentPlanTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentPlanType converts raw input into a PaymentPlanType.
func ParsePaymentPlanType(value string) (PaymentPlanType, error) {
	for _, candidate := range validPaymentPlanTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment plan type %q", value)
}
