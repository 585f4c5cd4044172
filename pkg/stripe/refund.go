package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/refund"

	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
)

// MetadataRefundRequestID links a processor refund back to the ledger request.
const MetadataRefundRequestID = "refund_request_id"

// RefundInput describes one refund against a captured payment intent.
type RefundInput struct {
	PaymentIntentID string
	AmountCents     int64
	IdempotencyKey  string
	RefundRequestID string
}

type refundCreator func(params *stripe.RefundParams) (*stripe.Refund, error)

// RefundClient creates refunds. Errors come back classified: transient
// failures as retryable dependency errors, rejected requests as validation errors.
type RefundClient struct {
	create refundCreator
}

// NewRefundClient requires an initialized Client so the API key is set.
func NewRefundClient(client *Client) (*RefundClient, error) {
	if client == nil || client.API() == nil {
		return nil, errors.New("stripe client required")
	}
	return &RefundClient{create: refund.New}, nil
}

func (c *RefundClient) CreateRefund(ctx context.Context, input RefundInput) (string, error) {
	if strings.TrimSpace(input.PaymentIntentID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	if input.AmountCents <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(input.PaymentIntentID),
		Amount:        stripe.Int64(input.AmountCents),
	}
	params.Context = ctx
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}
	if input.RefundRequestID != "" {
		params.AddMetadata(MetadataRefundRequestID, input.RefundRequestID)
	}

	created, err := c.create(params)
	if err != nil {
		return "", classifyError(err)
	}
	if created == nil || created.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "stripe returned an empty refund")
	}
	return created.ID, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stripe refund canceled")
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stripe unreachable")
	}
	details := map[string]any{
		"stripe_status": stripeErr.HTTPStatusCode,
		"stripe_code":   string(stripeErr.Code),
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode == http.StatusConflict,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == 0:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stripe temporarily unavailable").WithDetails(details)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stripe rejected refund").WithDetails(details)
	}
}
