package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/payment-ledger/internal/money"
	"github.com/angelmondragon/payment-ledger/internal/notifications"
	"github.com/angelmondragon/payment-ledger/pkg/config"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, note notifications.Notification) error
}

type transitionRecorder interface {
	PaymentTransition(from, to string)
}

// Service owns the payment ledger: creation, payment recording, reads and the overdue sweep.
type Service interface {
	CreatePayment(ctx context.Context, input CreatePaymentInput) (*models.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, input UpdateStatusInput) (*models.Payment, error)
	UpdateInstallmentPayment(ctx context.Context, input UpdateInstallmentInput) (*models.Payment, error)
	GetUserPendingPayments(ctx context.Context, userID uuid.UUID) ([]models.Payment, error)
	GetUserTotalPendingAmount(ctx context.Context, userID uuid.UUID) (int64, error)
	GetUserNextPaymentDue(ctx context.Context, userID uuid.UUID) (*NextPaymentDue, error)
	GetAdminPendingPayments(ctx context.Context, limit int) ([]models.Payment, error)
	GetPaymentStats(ctx context.Context) PaymentStats
	SweepOverduePayments(ctx context.Context) (SweepResult, error)
}

// ServiceParams groups dependencies for the payments service.
type ServiceParams struct {
	Repo               Repository
	Tx                 txRunner
	Notifier           notifier
	Ledger             config.LedgerConfig
	PersistLazyOverdue bool
	Logger             *logger.Logger
	Metrics            transitionRecorder
	Now                func() time.Time
}

type service struct {
	repo        Repository
	tx          txRunner
	notifier    notifier
	ledger      config.LedgerConfig
	persistLazy bool
	logg        *logger.Logger
	metrics     transitionRecorder
	now         func() time.Time
}

// NewService builds the payments service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("payments repository required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Notifier == nil {
		return nil, errors.New("notifier required")
	}
	if params.Ledger.InstallmentUnitCents <= 0 || params.Ledger.InstallmentIntervalDays <= 0 {
		return nil, errors.New("installment unit and interval must be positive")
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
		repo:        params.Repo,
		tx:          params.Tx,
		notifier:    params.Notifier,
		ledger:      params.Ledger,
		persistLazy: params.PersistLazyOverdue,
		logg:        logg,
		metrics:     params.Metrics,
		now:         func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) CreatePayment(ctx context.Context, input CreatePaymentInput) (*models.Payment, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	now := s.now()
	payment := &models.Payment{
		UserID:           input.UserID,
		OrderID:          input.OrderID,
		ServiceName:      strings.TrimSpace(input.ServiceName),
		ServiceType:      strings.TrimSpace(input.ServiceType),
		PaymentMethod:    input.PaymentMethod,
		TotalAmountCents: input.TotalCents,
		AmountDueCents:   input.TotalCents,
		PlanType:         input.PlanType,
		Status:           enums.PaymentStatusPending,
		DueDate:          now.AddDate(0, 0, s.ledger.DefaultDueDays),
	}
	if input.DueDate != nil {
		payment.DueDate = input.DueDate.UTC()
	}

	if input.PlanType == enums.PaymentPlanInstallment && input.TotalCents > s.ledger.InstallmentThresholdCents {
		n, err := money.InstallmentCount(input.TotalCents, s.ledger.InstallmentUnitCents)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid installment plan")
		}
		schedule, err := money.CreateInstallmentSchedule(n, input.TotalCents, now, s.ledger.InstallmentIntervalDays)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid installment plan")
		}
		payment.Status = enums.PaymentStatusScheduled
		payment.DueDate = schedule[0].DueDate
		payment.Installments = make([]models.PaymentInstallment, 0, len(schedule))
		for _, row := range schedule {
			payment.Installments = append(payment.Installments, models.PaymentInstallment{
				InstallmentNumber: row.Number,
				DueDate:           row.DueDate,
				AmountCents:       row.AmountCents,
				Status:            enums.InstallmentStatusScheduled,
			})
		}
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		return s.notify(ctx, tx, enums.EventPaymentCreated, payment, input.ActorID)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition("", payment.Status)
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "status", payment.Status), "payment created")
	return payment, nil
}

func validateCreate(input CreatePaymentInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if strings.TrimSpace(input.ServiceName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "service name required")
	}
	if input.TotalCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "total amount must be positive")
	}
	if !input.PlanType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment plan type").
			WithDetails(map[string]any{"plan_type": input.PlanType})
	}
	return nil
}

func (s *service) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadError(err, "load payment")
	}
	s.applyLazyOverdue(ctx, payment)
	return payment, nil
}

func (s *service) UpdatePaymentStatus(ctx context.Context, input UpdateStatusInput) (*models.Payment, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status").
			WithDetails(map[string]any{"status": input.Status})
	}

	var (
		updated *models.Payment
		from    enums.PaymentStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, input.PaymentID)
		if err != nil {
			return loadError(err, "load payment")
		}
		if current.Status.IsFinal() {
			return finalStateError(current)
		}
		from = current.Status

		paid := current.AmountPaidCents
		if input.AmountPaidCents != nil {
			if *input.AmountPaidCents < 0 || *input.AmountPaidCents > current.TotalAmountCents {
				return pkgerrors.New(pkgerrors.CodeValidation, "amount paid must be between 0 and the total").
					WithDetails(map[string]any{"amount_paid_cents": *input.AmountPaidCents, "total_cents": current.TotalAmountCents})
			}
			paid = *input.AmountPaidCents
		} else if input.Status == enums.PaymentStatusCompleted {
			paid = current.TotalAmountCents
		}

		if paid != current.AmountPaidCents && len(current.Installments) > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "installment plan payments are recorded per installment").
				WithDetails(map[string]any{"amount_paid_cents": paid, "use": "installment payment update"})
		}

		target, err := deriveStatus(input.Status, paid, current.TotalAmountCents)
		if err != nil {
			return err
		}

		now := s.now()
		updates := map[string]any{
			"amount_paid_cents": paid,
			"amount_due_cents":  current.TotalAmountCents - paid,
			"status":            target,
			"overdue_by":        nil,
		}
		if target == enums.PaymentStatusCompleted {
			updates["completed_at"] = now
		}
		if target == enums.PaymentStatusOverdue {
			updates["overdue_by"] = overdueDays(now, current.DueDate)
		}

		ok, err := repo.UpdateIfUnchanged(ctx, current.ID, current.Status, current.Version, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !ok {
			return conflictError(ctx, repo, current.ID)
		}

		updated, err = repo.FindByID(ctx, current.ID)
		if err != nil {
			return loadError(err, "reload payment")
		}
		if updated.Status == from {
			return nil
		}
		return s.notify(ctx, tx, enums.EventPaymentStatusChanged, updated, input.ActorID)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(from, updated.Status)
	return updated, nil
}

func (s *service) UpdateInstallmentPayment(ctx context.Context, input UpdateInstallmentInput) (*models.Payment, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if input.InstallmentNumber <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "installment number must be positive")
	}

	var (
		updated *models.Payment
		from    enums.PaymentStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, input.PaymentID)
		if err != nil {
			return loadError(err, "load payment")
		}
		if current.Status.IsFinal() {
			return finalStateError(current)
		}
		from = current.Status

		idx := -1
		for i := range current.Installments {
			if current.Installments[i].InstallmentNumber == input.InstallmentNumber {
				idx = i
				break
			}
		}
		if idx < 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "installment not found").
				WithDetails(map[string]any{"installment_number": input.InstallmentNumber})
		}
		inst := current.Installments[idx]
		if input.PaidAmountCents <= 0 || input.PaidAmountCents > inst.AmountCents {
			return pkgerrors.New(pkgerrors.CodeValidation, "paid amount must be positive and at most the installment amount").
				WithDetails(map[string]any{"paid_amount_cents": input.PaidAmountCents, "amount_cents": inst.AmountCents})
		}

		now := s.now()
		instUpdates := map[string]any{
			"paid_amount_cents": input.PaidAmountCents,
			"status":            enums.InstallmentStatusPartial,
			"paid_at":           nil,
		}
		current.Installments[idx].PaidAmountCents = input.PaidAmountCents
		if input.PaidAmountCents >= inst.AmountCents {
			instUpdates["status"] = enums.InstallmentStatusPaid
			instUpdates["paid_at"] = now
			instUpdates["overdue_by"] = nil
		}

		ok, err := repo.UpdateInstallmentIfUnchanged(ctx, current.ID, inst.InstallmentNumber, inst.Status, inst.PaidAmountCents, instUpdates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update installment")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConcurrency, "installment was modified concurrently").
				WithDetails(map[string]any{"installment_number": inst.InstallmentNumber})
		}

		var paid int64
		for _, row := range current.Installments {
			paid += row.PaidAmountCents
		}
		if paid > current.TotalAmountCents {
			paid = current.TotalAmountCents
		}

		updates := map[string]any{
			"amount_paid_cents": paid,
			"amount_due_cents":  current.TotalAmountCents - paid,
			"overdue_by":        nil,
		}
		if next := nextUnpaidInstallment(current.Installments); next == nil {
			updates["status"] = enums.PaymentStatusCompleted
			updates["completed_at"] = now
		} else {
			updates["due_date"] = next.DueDate
			if money.IsOverdue(now, next.DueDate) {
				updates["status"] = enums.PaymentStatusOverdue
				updates["overdue_by"] = overdueDays(now, next.DueDate)
			} else {
				updates["status"] = enums.PaymentStatusPartiallyPaid
			}
		}

		ok, err = repo.UpdateIfUnchanged(ctx, current.ID, current.Status, current.Version, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment totals")
		}
		if !ok {
			return conflictError(ctx, repo, current.ID)
		}

		updated, err = repo.FindByID(ctx, current.ID)
		if err != nil {
			return loadError(err, "reload payment")
		}
		if updated.Status == from {
			return nil
		}
		return s.notify(ctx, tx, enums.EventPaymentStatusChanged, updated, input.ActorID)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(from, updated.Status)
	return updated, nil
}

// conflictError explains a missed conditional write by re-reading the row.
func conflictError(ctx context.Context, repo Repository, id uuid.UUID) error {
	latest, err := repo.FindByID(ctx, id)
	if err != nil {
		return loadError(err, "reload payment")
	}
	if latest.Status.IsFinal() {
		return finalStateError(latest)
	}
	return pkgerrors.New(pkgerrors.CodeConcurrency, "payment was modified concurrently").
		WithDetails(map[string]any{"status": latest.Status, "version": latest.Version})
}

func finalStateError(p *models.Payment) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "payment can no longer be modified").
		WithDetails(map[string]any{"status": p.Status})
}

func (s *service) notify(ctx context.Context, tx *gorm.DB, event enums.OutboxEventType, p *models.Payment, actorID *uuid.UUID) error {
	note := notifications.Notification{
		Event:       event,
		Subject:     notifications.SubjectPayment,
		SubjectID:   p.ID,
		UserID:      p.UserID,
		Status:      string(p.Status),
		AmountCents: p.TotalAmountCents,
		ServiceName: p.ServiceName,
		OccurredAt:  s.now(),
	}
	if actorID != nil {
		note.ActorID = actorID
		note.ActorRole = string(enums.RoleAdmin)
	}
	if err := s.notifier.Notify(ctx, tx, note); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payment notification")
	}
	return nil
}

func (s *service) recordTransition(from, to enums.PaymentStatus) {
	if s.metrics == nil {
		return
	}
	label := string(from)
	if label == "" {
		label = "new"
	}
	s.metrics.PaymentTransition(label, string(to))
}
