package refunds

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"gorm.io/gorm"
)

const reconcileAttempts = 2

var errReconcileRaced = errors.New("refund request changed during reconcile")

// ApplyExternalRefundEvent folds a processor outcome into the request that
// owns the refund. Duplicate and late deliveries are no-ops.
func (s *service) ApplyExternalRefundEvent(ctx context.Context, event ExternalRefundEvent) (*models.RefundRequest, error) {
	intentID := strings.TrimSpace(event.RefundIntentID)
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund intent id required")
	}
	if !event.Outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund outcome").
			WithDetails(map[string]any{"outcome": event.Outcome})
	}
	ctx = s.logg.WithField(ctx, "refund_intent_id", intentID)

	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		req, err := s.applyOnce(ctx, intentID, event)
		if errors.Is(err, errReconcileRaced) {
			continue
		}
		return req, err
	}
	return nil, pkgerrors.New(pkgerrors.CodeConcurrency, "refund request kept changing during reconcile")
}

func (s *service) applyOnce(ctx context.Context, intentID string, event ExternalRefundEvent) (*models.RefundRequest, error) {
	current, err := s.repo.FindByRefundIntentID(ctx, intentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, s.unknownIntent(ctx, event)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund by intent")
	}
	ctx = s.logg.WithRefundRequestID(ctx, current.ID.String())

	if IsTerminal(*current) {
		if !impliedBy(*current, event.Outcome) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"status":  current.Status,
				"outcome": event.Outcome,
			}), "processor outcome ignored for terminal refund request")
		}
		return current, nil
	}
	pending := enums.StripeRefundPending
	if current.Status != enums.RefundStatusProcessed || current.StripeRefundStatus == nil || *current.StripeRefundStatus != pending {
		s.logg.Warn(s.logg.WithField(ctx, "status", current.Status), "processor outcome for refund request not awaiting confirmation")
		return current, nil
	}

	target, updates, reason := s.outcomeUpdates(event)
	if !CanTransition(current.Status, target) {
		return nil, transitionError(current.Status, target)
	}

	var updated *models.RefundRequest
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UpdateGuarded(ctx, current.ID, Guard{Status: enums.RefundStatusProcessed, StripeRefundStatus: &pending}, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply processor outcome")
		}
		if !ok {
			return errReconcileRaced
		}
		if err := s.appendHistory(ctx, repo, current.ID, target, changedByWebhook, reason); err != nil {
			return err
		}
		updated, err = repo.FindByID(ctx, current.ID)
		if err != nil {
			return loadError(err, "reload refund request")
		}
		return s.notify(ctx, tx, enums.EventRefundStatusChanged, updated, nil)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(current.Status, target)
	s.logg.Info(s.logg.WithField(ctx, "outcome", event.Outcome), "processor outcome applied")
	return updated, nil
}

func (s *service) outcomeUpdates(event ExternalRefundEvent) (enums.RefundRequestStatus, map[string]any, string) {
	now := s.now()
	if event.Outcome == enums.RefundOutcomeSucceeded {
		return enums.RefundStatusProcessed, map[string]any{
			"stripe_refund_status": enums.StripeRefundSucceeded,
			"completed_at":         now,
		}, "Refund confirmed by processor"
	}

	reason := "Refund failed at processor"
	updates := map[string]any{
		"status":               enums.RefundStatusFailed,
		"stripe_refund_status": enums.StripeRefundFailed,
	}
	if msg := trimmedOrNil(event.Error); msg != nil {
		updates["stripe_refund_error"] = *msg
		reason = reason + ": " + *msg
	}
	return enums.RefundStatusFailed, updates, reason
}

// unknownIntent handles an event for a refund id nobody recorded. It is
// retryable while the request named in the metadata is still approved: either
// the event beat the commit of the processed write, or that write failed and
// the admin's retry will record the same refund id.
func (s *service) unknownIntent(ctx context.Context, event ExternalRefundEvent) error {
	if event.RefundRequestID != nil {
		req, err := s.repo.FindByID(ctx, *event.RefundRequestID)
		switch {
		case err == nil:
			if req.Status == enums.RefundStatusApproved {
				return pkgerrors.New(pkgerrors.CodeConcurrency, "refund request is not recorded as processed yet").
					WithDetails(map[string]any{"refund_request_id": req.ID, "claimed": req.HasLiveClaim(s.now(), s.claimTTL)})
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund request from metadata")
		}
	}
	s.logg.Warn(ctx, "processor event for unknown refund ignored")
	return nil
}

func impliedBy(req models.RefundRequest, outcome enums.RefundOutcome) bool {
	if outcome == enums.RefundOutcomeSucceeded {
		return req.Status == enums.RefundStatusProcessed
	}
	return req.Status == enums.RefundStatusFailed
}
