package payments

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/payment-ledger/internal/notifications"
	"github.com/angelmondragon/payment-ledger/pkg/config"
	"github.com/angelmondragon/payment-ledger/pkg/db"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/angelmondragon/payment-ledger/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var testLedger = config.LedgerConfig{
	InstallmentThresholdCents: 20000,
	InstallmentUnitCents:      10000,
	InstallmentIntervalDays:   30,
	DefaultDueDays:            30,
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.Payment{}, &models.PaymentInstallment{}, &models.OutboxEvent{}))
	return conn
}

func newTestService(t *testing.T, clock *testClock, repo func(*gorm.DB) Repository) (Service, *gorm.DB) {
	t.Helper()
	conn := openTestDB(t)
	notifier, err := notifications.NewNotifier(outbox.NewService(outbox.NewRepository(conn), nil))
	require.NoError(t, err)
	if repo == nil {
		repo = NewRepository
	}
	svc, err := NewService(ServiceParams{
		Repo:               repo(conn),
		Tx:                 db.Wrap(conn),
		Notifier:           notifier,
		Ledger:             testLedger,
		PersistLazyOverdue: true,
		Now:                clock.Now,
	})
	require.NoError(t, err)
	return svc, conn
}

func baseTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func createInput(total int64, plan enums.PaymentPlanType) CreatePaymentInput {
	return CreatePaymentInput{
		UserID:      uuid.New(),
		OrderID:     uuid.New(),
		ServiceName: "Brand strategy",
		ServiceType: "consulting",
		TotalCents:  total,
		PlanType:    plan,
	}
}

func assertBalanced(t *testing.T, p *models.Payment) {
	t.Helper()
	assert.Equal(t, p.TotalAmountCents, p.AmountPaidCents+p.AmountDueCents, "paid + due must equal total")
	assert.Equal(t, p.Status == enums.PaymentStatusCompleted, p.AmountDueCents == 0, "completed iff nothing due")
}

func countOutbox(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestCreatePaymentBuildsInstallmentSchedule(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, conn := newTestService(t, clock, nil)
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(30000, enums.PaymentPlanInstallment))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusScheduled, created.Status)

	stored, err := svc.GetPayment(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, stored.Installments, 3)
	for i, inst := range stored.Installments {
		assert.Equal(t, i+1, inst.InstallmentNumber)
		assert.Equal(t, int64(10000), inst.AmountCents)
		assert.Equal(t, enums.InstallmentStatusScheduled, inst.Status)
		assert.True(t, inst.DueDate.Equal(baseTime().AddDate(0, 0, 30*(i+1))), "installment %d due %s", i+1, inst.DueDate)
	}
	assert.True(t, stored.DueDate.Equal(stored.Installments[0].DueDate))
	assertBalanced(t, stored)
	assert.Equal(t, int64(1), countOutbox(t, conn, enums.EventPaymentCreated))
}

func TestCreatePaymentRemainderGoesToLastInstallment(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)

	created, err := svc.CreatePayment(context.Background(), createInput(25001, enums.PaymentPlanInstallment))
	require.NoError(t, err)
	require.Len(t, created.Installments, 3)

	var sum int64
	for _, inst := range created.Installments {
		sum += inst.AmountCents
	}
	assert.Equal(t, int64(25001), sum)
	assert.Equal(t, int64(8333), created.Installments[0].AmountCents)
	assert.Equal(t, int64(8335), created.Installments[2].AmountCents)
}

func TestCreatePaymentBelowThresholdStaysPending(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)

	created, err := svc.CreatePayment(context.Background(), createInput(20000, enums.PaymentPlanInstallment))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, created.Status)
	assert.Empty(t, created.Installments)
	assert.True(t, created.DueDate.Equal(baseTime().AddDate(0, 0, 30)))
}

func TestCreatePaymentValidation(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)
	ctx := context.Background()

	_, err := svc.CreatePayment(ctx, createInput(0, enums.PaymentPlanOneTime))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.CreatePayment(ctx, createInput(1000, enums.PaymentPlanType("weekly")))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	input := createInput(1000, enums.PaymentPlanOneTime)
	input.UserID = uuid.Nil
	_, err = svc.CreatePayment(ctx, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateInstallmentPaymentMarksPartiallyPaid(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, conn := newTestService(t, clock, nil)
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(30000, enums.PaymentPlanInstallment))
	require.NoError(t, err)

	updated, err := svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{
		PaymentID:         created.ID,
		InstallmentNumber: 1,
		PaidAmountCents:   10000,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.InstallmentStatusPaid, updated.Installments[0].Status)
	assert.NotNil(t, updated.Installments[0].PaidAt)
	assert.Equal(t, int64(10000), updated.AmountPaidCents)
	assert.Equal(t, int64(20000), updated.AmountDueCents)
	assert.Equal(t, enums.PaymentStatusPartiallyPaid, updated.Status)
	assert.True(t, updated.DueDate.Equal(updated.Installments[1].DueDate))
	assert.Equal(t, 2, updated.Version)
	assertBalanced(t, updated)
	assert.Equal(t, int64(1), countOutbox(t, conn, enums.EventPaymentStatusChanged))
}

func TestUpdateInstallmentPaymentPartialAndCompletion(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(30000, enums.PaymentPlanInstallment))
	require.NoError(t, err)

	updated, err := svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{PaymentID: created.ID, InstallmentNumber: 2, PaidAmountCents: 4000})
	require.NoError(t, err)
	assert.Equal(t, enums.InstallmentStatusPartial, updated.Installments[1].Status)
	assert.Equal(t, enums.PaymentStatusPartiallyPaid, updated.Status)
	assertBalanced(t, updated)

	for _, number := range []int{1, 2, 3} {
		updated, err = svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{PaymentID: created.ID, InstallmentNumber: number, PaidAmountCents: 10000})
		require.NoError(t, err)
		assertBalanced(t, updated)
	}
	assert.Equal(t, enums.PaymentStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)

	_, err = svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{PaymentID: created.ID, InstallmentNumber: 1, PaidAmountCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestUpdateInstallmentPaymentErrors(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(30000, enums.PaymentPlanInstallment))
	require.NoError(t, err)

	_, err = svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{PaymentID: created.ID, InstallmentNumber: 4, PaidAmountCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{PaymentID: created.ID, InstallmentNumber: 1, PaidAmountCents: 10001})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{PaymentID: uuid.New(), InstallmentNumber: 1, PaidAmountCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateInstallmentPaymentLoweredClearsPaidAt(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(30000, enums.PaymentPlanInstallment))
	require.NoError(t, err)

	updated, err := svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{PaymentID: created.ID, InstallmentNumber: 1, PaidAmountCents: 10000})
	require.NoError(t, err)
	require.NotNil(t, updated.Installments[0].PaidAt)

	updated, err = svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{PaymentID: created.ID, InstallmentNumber: 1, PaidAmountCents: 2500})
	require.NoError(t, err)
	assert.Equal(t, enums.InstallmentStatusPartial, updated.Installments[0].Status)
	assert.Nil(t, updated.Installments[0].PaidAt)
	assert.Equal(t, int64(2500), updated.AmountPaidCents)
	assertBalanced(t, updated)
}

func TestUpdatePaymentStatusRejectsAmountOnInstallmentPlan(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(30000, enums.PaymentPlanInstallment))
	require.NoError(t, err)

	paid := int64(15000)
	_, err = svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusPartiallyPaid, AmountPaidCents: &paid})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusCompleted})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	updated, err := svc.UpdateInstallmentPayment(ctx, UpdateInstallmentInput{PaymentID: created.ID, InstallmentNumber: 1, PaidAmountCents: 10000})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), updated.AmountPaidCents)
	assert.Equal(t, int64(20000), updated.AmountDueCents)

	cancelled, err := svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCancelled, cancelled.Status)
	assert.Equal(t, int64(10000), cancelled.AmountPaidCents)
}

func TestUpdatePaymentStatusDerivedStatusWins(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(10000, enums.PaymentPlanOneTime))
	require.NoError(t, err)

	partial := int64(4000)
	updated, err := svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusPending, AmountPaidCents: &partial})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyPaid, updated.Status)
	assert.Equal(t, int64(6000), updated.AmountDueCents)
	assertBalanced(t, updated)

	full := int64(10000)
	updated, err = svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusOverdue, AmountPaidCents: &full})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
	assertBalanced(t, updated)

	_, err = svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusPending})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestUpdatePaymentStatusCompletedWithoutAmountPaysInFull(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(7500, enums.PaymentPlanOneTime))
	require.NoError(t, err)

	updated, err := svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), updated.AmountPaidCents)
	assert.Zero(t, updated.AmountDueCents)
	assertBalanced(t, updated)
}

func TestUpdatePaymentStatusValidation(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, _ := newTestService(t, clock, nil)
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(5000, enums.PaymentPlanOneTime))
	require.NoError(t, err)

	tooMuch := int64(5001)
	_, err = svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusPending, AmountPaidCents: &tooMuch})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusPartiallyPaid})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: "settled"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	cancelled, err := svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCancelled, cancelled.Status)

	_, err = svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusCompleted})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

// racingRepo bumps the row's version just before the conditional write, as a
// concurrent writer committing first would.
type racingRepo struct {
	Repository
	tx *gorm.DB
}

func (r *racingRepo) WithTx(tx *gorm.DB) Repository {
	return &racingRepo{Repository: r.Repository.WithTx(tx), tx: tx}
}

func (r *racingRepo) UpdateIfUnchanged(ctx context.Context, id uuid.UUID, status enums.PaymentStatus, version int, updates map[string]any) (bool, error) {
	if r.tx != nil {
		if err := r.tx.Exec("UPDATE payments SET version = version + 1 WHERE id = ?", id).Error; err != nil {
			return false, err
		}
	}
	return r.Repository.UpdateIfUnchanged(ctx, id, status, version, updates)
}

func TestUpdatePaymentStatusReportsConcurrencyConflict(t *testing.T) {
	clock := &testClock{now: baseTime()}
	svc, conn := newTestService(t, clock, func(conn *gorm.DB) Repository {
		return &racingRepo{Repository: NewRepository(conn)}
	})
	ctx := context.Background()

	created, err := svc.CreatePayment(ctx, createInput(5000, enums.PaymentPlanOneTime))
	require.NoError(t, err)

	paid := int64(1000)
	_, err = svc.UpdatePaymentStatus(ctx, UpdateStatusInput{PaymentID: created.ID, Status: enums.PaymentStatusPending, AmountPaidCents: &paid})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConcurrency))
	assert.True(t, pkgerrors.IsRetryable(err))

	var stored models.Payment
	require.NoError(t, conn.First(&stored, "id = ?", created.ID).Error)
	assert.Equal(t, enums.PaymentStatusPending, stored.Status)
	assert.Zero(t, stored.AmountPaidCents)
}
