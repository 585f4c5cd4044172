package refunds

import (
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
)

// transitions is the whole refund workflow. processed -> processed is the
// processor confirming a refund that was handed off earlier.
var transitions = map[enums.RefundRequestStatus][]enums.RefundRequestStatus{
	enums.RefundStatusPending:   {enums.RefundStatusApproved, enums.RefundStatusDenied},
	enums.RefundStatusApproved:  {enums.RefundStatusProcessed},
	enums.RefundStatusProcessed: {enums.RefundStatusProcessed, enums.RefundStatusFailed},
}

// CanTransition reports whether the workflow allows moving from one status to another.
func CanTransition(from, to enums.RefundRequestStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the request can no longer change: denied,
// failed, or processed with the processor confirming success.
func IsTerminal(req models.RefundRequest) bool {
	switch req.Status {
	case enums.RefundStatusDenied, enums.RefundStatusFailed:
		return true
	case enums.RefundStatusProcessed:
		return req.StripeRefundStatus != nil && *req.StripeRefundStatus == enums.StripeRefundSucceeded
	}
	return false
}
