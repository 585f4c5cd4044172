package enums

import "fmt"

// RefundOutcome is the terminal result reported by the processor.
type RefundOutcome string

const (
	RefundOutcomeSucceeded RefundOutcome = "succeeded"
	RefundOutcomeFailed    RefundOutcome = "failed"
)

// IsValid reports whether the value is a known RefundOutcome.
func (o RefundOutcome) IsValid() bool {
	return o == RefundOutcomeSucceeded || o == RefundOutcomeFailed
}

// ParseRefundOutcome converts raw input into a RefundOutcome.
func ParseRefundOutcome(value string) (RefundOutcome, error) {
	switch RefundOutcome(value) {
	case RefundOutcomeSucceeded, RefundOutcomeFailed:
		return RefundOutcome(value), nil
	}
	return "", fmt.Errorf("invalid refund outcome %q", value)
}
