package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/angelmondragon/payment-ledger/internal/notifications"
	"github.com/angelmondragon/payment-ledger/pkg/db"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
	pkgstripe "github.com/angelmondragon/payment-ledger/pkg/stripe"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"
)

const (
	changedByUser    = "user"
	changedByWebhook = "webhook"
	refundMethod     = "stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, note notifications.Notification) error
}

// Processor creates refunds at the external payment processor and returns its refund id.
type Processor interface {
	CreateRefund(ctx context.Context, input pkgstripe.RefundInput) (string, error)
}

type ledgerMetrics interface {
	RefundTransition(from, to string)
	ProcessorCall(outcome string)
}

// Service runs the refund request workflow.
type Service interface {
	CreateRefundRequest(ctx context.Context, input CreateRefundInput) (*models.RefundRequest, error)
	ReviewRefundRequest(ctx context.Context, input ReviewInput) (*models.RefundRequest, error)
	ProcessRefund(ctx context.Context, input ProcessInput) (*models.RefundRequest, error)
	ApplyExternalRefundEvent(ctx context.Context, event ExternalRefundEvent) (*models.RefundRequest, error)
	GetRefundRequestByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	GetUserRefundRequests(ctx context.Context, userID uuid.UUID) ([]models.RefundRequest, error)
	GetPendingRefundRequests(ctx context.Context) ([]models.RefundRequest, error)
	GetRefundRequestsByStatus(ctx context.Context, status enums.RefundRequestStatus) ([]models.RefundRequest, error)
	ListStatusHistory(ctx context.Context, id uuid.UUID) ([]models.RefundStatusEntry, error)
	GetRefundStats(ctx context.Context, period StatsPeriod) RefundStats
}

// ServiceParams groups dependencies for the refunds service.
type ServiceParams struct {
	Repo             Repository
	Tx               txRunner
	Notifier         notifier
	Processor        Processor
	MessageMaxLength int
	ClaimTTL         time.Duration
	MaxRetries       uint64
	RetryBackoff     time.Duration
	Logger           *logger.Logger
	Metrics          ledgerMetrics
	Now              func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	notifier   notifier
	processor  Processor
	maxMessage int
	claimTTL   time.Duration
	maxRetries uint64
	backoff    time.Duration
	logg       *logger.Logger
	metrics    ledgerMetrics
	now        func() time.Time
}

// NewService builds the refunds service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("refunds repository required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Notifier == nil {
		return nil, errors.New("notifier required")
	}
	if params.Processor == nil {
		return nil, errors.New("refund processor required")
	}
	if params.MessageMaxLength <= 0 {
		return nil, errors.New("message max length must be positive")
	}
	if params.ClaimTTL <= 0 {
		return nil, errors.New("claim ttl must be positive")
	}
	backoff := params.RetryBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:       params.Repo,
		tx:         params.Tx,
		notifier:   params.Notifier,
		processor:  params.Processor,
		maxMessage: params.MessageMaxLength,
		claimTTL:   params.ClaimTTL,
		maxRetries: params.MaxRetries,
		backoff:    backoff,
		logg:       logg,
		metrics:    params.Metrics,
		now:        func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) CreateRefundRequest(ctx context.Context, input CreateRefundInput) (*models.RefundRequest, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	intent := strings.TrimSpace(input.PaymentIntentID)
	if intent == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund reason").
			WithDetails(map[string]any{"reason": input.Reason})
	}

	req := &models.RefundRequest{
		UserID:          input.UserID,
		PaymentIntentID: intent,
		AmountCents:     input.AmountCents,
		ServiceName:     strings.TrimSpace(input.ServiceName),
		ServiceType:     strings.TrimSpace(input.ServiceType),
		Reason:          input.Reason,
		UserMessage:     truncateMessage(input.UserMessage, s.maxMessage),
		Status:          enums.RefundStatusPending,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, req); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund request")
		}
		if err := s.appendHistory(ctx, repo, req.ID, enums.RefundStatusPending, changedByUser, "Refund request submitted"); err != nil {
			return err
		}
		return s.notify(ctx, tx, enums.EventRefundRequested, req, nil)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition("", req.Status)
	s.logg.Info(s.logg.WithRefundRequestID(ctx, req.ID.String()), "refund request created")
	return req, nil
}

func truncateMessage(message *string, limit int) *string {
	if message == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*message)
	if trimmed == "" {
		return nil
	}
	if utf8.RuneCountInString(trimmed) > limit {
		trimmed = string([]rune(trimmed)[:limit])
	}
	return &trimmed
}

func (s *service) ReviewRefundRequest(ctx context.Context, input ReviewInput) (*models.RefundRequest, error) {
	if input.RefundRequestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund request id required")
	}
	if input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id required")
	}
	if input.Decision != enums.RefundStatusApproved && input.Decision != enums.RefundStatusDenied {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "decision must be approved or denied").
			WithDetails(map[string]any{"status": input.Decision})
	}

	var (
		updated *models.RefundRequest
		from    enums.RefundRequestStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, input.RefundRequestID)
		if err != nil {
			return loadError(err, "load refund request")
		}
		if !CanTransition(current.Status, input.Decision) {
			return transitionError(current.Status, input.Decision)
		}
		from = current.Status

		now := s.now()
		notes := trimmedOrNil(input.AdminNotes)
		ok, err := repo.UpdateGuarded(ctx, current.ID, Guard{Status: current.Status, Version: &current.Version}, map[string]any{
			"status":      input.Decision,
			"reviewed_at": now,
			"admin_id":    input.AdminID,
			"admin_notes": notes,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update refund review")
		}
		if !ok {
			return conflictError(ctx, repo, current.ID, input.Decision)
		}

		reason := fmt.Sprintf("Refund request %s", input.Decision)
		if notes != nil {
			reason = *notes
		}
		if err := s.appendHistory(ctx, repo, current.ID, input.Decision, adminActor(input.AdminID), reason); err != nil {
			return err
		}

		updated, err = repo.FindByID(ctx, current.ID)
		if err != nil {
			return loadError(err, "reload refund request")
		}
		return s.notify(ctx, tx, enums.EventRefundStatusChanged, updated, &input.AdminID)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(from, updated.Status)
	return updated, nil
}

// ProcessRefund hands an approved request to the processor. The request is
// claimed before the external call so a concurrent caller never reaches the
// processor; the claim is released if the call or the processed write fails.
func (s *service) ProcessRefund(ctx context.Context, input ProcessInput) (*models.RefundRequest, error) {
	if input.RefundRequestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund request id required")
	}
	if input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id required")
	}
	ctx = s.logg.WithRefundRequestID(ctx, input.RefundRequestID.String())

	current, err := s.repo.FindByID(ctx, input.RefundRequestID)
	if err != nil {
		return nil, loadError(err, "load refund request")
	}
	if current.Status != enums.RefundStatusApproved {
		return nil, transitionError(current.Status, enums.RefundStatusProcessed)
	}
	amount := current.AmountCents
	if input.RefundAmountCents != nil {
		amount = *input.RefundAmountCents
	}
	if amount <= 0 || amount > current.AmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive and at most the original amount").
			WithDetails(map[string]any{"refund_amount_cents": amount, "amount_cents": current.AmountCents})
	}

	now := s.now()
	token := uuid.NewString()
	claimed, err := s.repo.Claim(ctx, current.ID, token, now, now.Add(-s.claimTTL))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim refund request")
	}
	if !claimed {
		return nil, claimConflict(ctx, s.repo, current.ID)
	}

	refundIntentID, err := s.createExternalRefund(ctx, current, amount)
	if err != nil {
		s.releaseClaim(ctx, current.ID, token)
		return nil, pkgerrors.Wrap(processorCode(err), err, "external refund creation failed").
			WithDetails(map[string]any{"status": current.Status})
	}

	var updated *models.RefundRequest
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		processedAt := s.now()
		pending := enums.StripeRefundPending
		ok, err := repo.UpdateGuarded(ctx, current.ID, Guard{Status: enums.RefundStatusApproved, ProcessingToken: &token}, map[string]any{
			"status":                enums.RefundStatusProcessed,
			"stripe_refund_status":  pending,
			"refund_intent_id":      refundIntentID,
			"refunded_amount_cents": amount,
			"refund_method":         refundMethod,
			"processed_at":          processedAt,
			"processing_token":      nil,
			"processing_claimed_at": nil,
		})
		if err != nil {
			if db.IsUniqueViolation(err, "refund_intent_id") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "refund intent already recorded on another request")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record processed refund")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConcurrency, "refund claim was lost before the result was recorded").
				WithDetails(map[string]any{"refund_intent_id": refundIntentID})
		}

		if err := s.appendHistory(ctx, repo, current.ID, enums.RefundStatusProcessed, adminActor(input.AdminID), "Refund submitted to processor"); err != nil {
			return err
		}
		updated, err = repo.FindByID(ctx, current.ID)
		if err != nil {
			return loadError(err, "reload refund request")
		}
		return s.notify(ctx, tx, enums.EventRefundStatusChanged, updated, &input.AdminID)
	})
	if err != nil {
		// The processor already accepted the refund; a retry reuses the same
		// idempotency key and gets the same refund back.
		s.logg.Error(s.logg.WithField(ctx, "refund_intent_id", refundIntentID), "refund created but not recorded", err)
		s.releaseClaim(ctx, current.ID, token)
		return nil, err
	}

	s.recordTransition(enums.RefundStatusApproved, enums.RefundStatusProcessed)
	s.logg.Info(s.logg.WithField(ctx, "refund_intent_id", refundIntentID), "refund handed to processor")
	return updated, nil
}

func (s *service) createExternalRefund(ctx context.Context, req *models.RefundRequest, amount int64) (string, error) {
	input := pkgstripe.RefundInput{
		PaymentIntentID: req.PaymentIntentID,
		AmountCents:     amount,
		IdempotencyKey:  IdempotencyKey(req.ID),
		RefundRequestID: req.ID.String(),
	}

	var refundIntentID string
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := s.processor.CreateRefund(ctx, input)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
				s.logg.Warn(ctx, "processor refund call failed, retrying")
				return retry.RetryableError(err)
			}
			return err
		}
		if strings.TrimSpace(id) == "" {
			return errors.New("processor returned an empty refund id")
		}
		refundIntentID = id
		return nil
	})
	if err != nil {
		s.recordProcessorCall("failure")
		return "", err
	}
	s.recordProcessorCall("success")
	return refundIntentID, nil
}

// processorCode keeps a permanent processor rejection distinguishable from an
// outage. Untyped failures count as dependency errors.
func processorCode(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	return pkgerrors.CodeDependency
}

// releaseClaim is a no-op once another caller holds the claim.
func (s *service) releaseClaim(ctx context.Context, id uuid.UUID, token string) {
	if err := s.repo.ReleaseClaim(context.WithoutCancel(ctx), id, token); err != nil {
		s.logg.Error(ctx, "release refund claim", err)
	}
}

// IdempotencyKey is the processor idempotency key for a refund request.
func IdempotencyKey(id uuid.UUID) string {
	return "refund-request-" + id.String()
}

func (s *service) appendHistory(ctx context.Context, repo Repository, id uuid.UUID, status enums.RefundRequestStatus, changedBy, reason string) error {
	entry := &models.RefundStatusEntry{
		RefundRequestID: id,
		Status:          status,
		ChangedBy:       changedBy,
		Reason:          reason,
		CreatedAt:       s.now(),
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append refund history")
	}
	return nil
}

func (s *service) notify(ctx context.Context, tx *gorm.DB, event enums.OutboxEventType, req *models.RefundRequest, actorID *uuid.UUID) error {
	amount := req.AmountCents
	if req.RefundedAmountCents != nil {
		amount = *req.RefundedAmountCents
	}
	note := notifications.Notification{
		Event:       event,
		Subject:     notifications.SubjectRefundRequest,
		SubjectID:   req.ID,
		UserID:      req.UserID,
		Status:      string(req.Status),
		AmountCents: amount,
		ServiceName: req.ServiceName,
		AdminNotes:  req.AdminNotes,
		OccurredAt:  s.now(),
	}
	if actorID != nil {
		note.ActorID = actorID
		note.ActorRole = string(enums.RoleAdmin)
	}
	if err := s.notifier.Notify(ctx, tx, note); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue refund notification")
	}
	return nil
}

func (s *service) recordTransition(from, to enums.RefundRequestStatus) {
	if s.metrics == nil {
		return
	}
	label := string(from)
	if label == "" {
		label = "new"
	}
	s.metrics.RefundTransition(label, string(to))
}

func (s *service) recordProcessorCall(outcome string) {
	if s.metrics != nil {
		s.metrics.ProcessorCall(outcome)
	}
}

func adminActor(id uuid.UUID) string {
	return "admin:" + id.String()
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func loadError(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func transitionError(from, to enums.RefundRequestStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request cannot move to the requested status").
		WithDetails(map[string]any{"status": from, "requested": to})
}

// conflictError explains a missed conditional write: a status that no longer
// permits the move is a transition error, anything else lost a race.
func conflictError(ctx context.Context, repo Repository, id uuid.UUID, target enums.RefundRequestStatus) error {
	latest, err := repo.FindByID(ctx, id)
	if err != nil {
		return loadError(err, "reload refund request")
	}
	if !CanTransition(latest.Status, target) {
		return transitionError(latest.Status, target)
	}
	return pkgerrors.New(pkgerrors.CodeConcurrency, "refund request was modified concurrently").
		WithDetails(map[string]any{"status": latest.Status})
}

func claimConflict(ctx context.Context, repo Repository, id uuid.UUID) error {
	latest, err := repo.FindByID(ctx, id)
	if err != nil {
		return loadError(err, "reload refund request")
	}
	if latest.Status != enums.RefundStatusApproved {
		return transitionError(latest.Status, enums.RefundStatusProcessed)
	}
	return pkgerrors.New(pkgerrors.CodeConcurrency, "refund request is already being processed").
		WithDetails(map[string]any{"status": latest.Status})
}
