package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/angelmondragon/payment-ledger/internal/refunds"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
	pkgstripe "github.com/angelmondragon/payment-ledger/pkg/stripe"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

const (
	eventRefundUpdated       stripe.EventType = "refund.updated"
	eventRefundFailed        stripe.EventType = "refund.failed"
	eventChargeRefundUpdated stripe.EventType = "charge.refund.updated"
)

const (
	resultApplied = "applied"
	resultIgnored = "ignored"
	resultFailed  = "failed"
)

type refundReconciler interface {
	ApplyExternalRefundEvent(ctx context.Context, event refunds.ExternalRefundEvent) (*models.RefundRequest, error)
}

type webhookMetrics interface {
	WebhookEvent(result string)
}

type ServiceParams struct {
	Refunds refundReconciler
	Logger  *logger.Logger
	Metrics webhookMetrics
}

// Service turns Stripe refund events into ledger refund outcomes.
type Service struct {
	refunds refundReconciler
	logg    *logger.Logger
	metrics webhookMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Refunds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund reconciler required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		refunds: params.Refunds,
		logg:    logg,
		metrics: params.Metrics,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})

	switch event.Type {
	case eventRefundUpdated, eventRefundFailed, eventChargeRefundUpdated:
	default:
		s.record(resultIgnored)
		return nil
	}

	var refund stripe.Refund
	if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
		s.record(resultFailed)
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode refund event")
	}
	external, ok := toExternalEvent(&refund)
	if !ok {
		s.logg.Debug(s.logg.WithField(ctx, "refund_status", string(refund.Status)), "refund event without final outcome ignored")
		s.record(resultIgnored)
		return nil
	}

	if _, err := s.refunds.ApplyExternalRefundEvent(ctx, external); err != nil {
		s.record(resultFailed)
		return err
	}
	s.record(resultApplied)
	return nil
}

// toExternalEvent reports false for statuses that are not an outcome yet.
func toExternalEvent(refund *stripe.Refund) (refunds.ExternalRefundEvent, bool) {
	if refund == nil || refund.ID == "" {
		return refunds.ExternalRefundEvent{}, false
	}
	event := refunds.ExternalRefundEvent{RefundIntentID: refund.ID}

	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		event.Outcome = enums.RefundOutcomeSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		event.Outcome = enums.RefundOutcomeFailed
		reason := strings.TrimSpace(string(refund.FailureReason))
		if reason == "" {
			reason = string(refund.Status)
		}
		event.Error = &reason
	default:
		return refunds.ExternalRefundEvent{}, false
	}

	if raw := refund.Metadata[pkgstripe.MetadataRefundRequestID]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			event.RefundRequestID = &id
		}
	}
	return event, true
}

func (s *Service) record(result string) {
	if s.metrics != nil {
		s.metrics.WebhookEvent(result)
	}
}
