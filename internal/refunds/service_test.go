package refunds

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/payment-ledger/internal/notifications"
	"github.com/angelmondragon/payment-ledger/pkg/db"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/angelmondragon/payment-ledger/pkg/outbox"
	pkgstripe "github.com/angelmondragon/payment-ledger/pkg/stripe"
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

func baseTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

// stubProcessor returns errs in order, then succeeds with id. When release is
// set the first call signals entered and waits for release to be closed.
type stubProcessor struct {
	mu      sync.Mutex
	id      string
	errs    []error
	calls   []pkgstripe.RefundInput
	entered chan struct{}
	release chan struct{}
}

func (p *stubProcessor) CreateRefund(ctx context.Context, input pkgstripe.RefundInput) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, input)
	first := len(p.calls) == 1
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	p.mu.Unlock()

	if first && p.release != nil {
		close(p.entered)
		<-p.release
	}
	if err != nil {
		return "", err
	}
	return p.id, nil
}

func (p *stubProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
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
	require.NoError(t, conn.AutoMigrate(&models.RefundRequest{}, &models.RefundStatusEntry{}, &models.OutboxEvent{}))
	return conn
}

type fixture struct {
	svc   Service
	conn  *gorm.DB
	clock *testClock
	proc  *stubProcessor
}

func newFixture(t *testing.T, proc *stubProcessor, repo func(*gorm.DB) Repository) fixture {
	t.Helper()
	conn := openTestDB(t)
	notifier, err := notifications.NewNotifier(outbox.NewService(outbox.NewRepository(conn), nil))
	require.NoError(t, err)
	if proc == nil {
		proc = &stubProcessor{id: "re_test_1"}
	}
	if repo == nil {
		repo = NewRepository
	}
	clock := &testClock{now: baseTime()}
	svc, err := NewService(ServiceParams{
		Repo:             repo(conn),
		Tx:               db.Wrap(conn),
		Notifier:         notifier,
		Processor:        proc,
		MessageMaxLength: 500,
		ClaimTTL:         10 * time.Minute,
		MaxRetries:       2,
		RetryBackoff:     time.Millisecond,
		Now:              clock.Now,
	})
	require.NoError(t, err)
	return fixture{svc: svc, conn: conn, clock: clock, proc: proc}
}

func createInput() CreateRefundInput {
	return CreateRefundInput{
		UserID:          uuid.New(),
		PaymentIntentID: "pi_" + uuid.NewString()[:8],
		AmountCents:     5000,
		ServiceName:     "Brand strategy",
		ServiceType:     "consulting",
		Reason:          enums.RefundReasonServiceUnsatisfactory,
	}
}

func (f fixture) approved(t *testing.T) *models.RefundRequest {
	t.Helper()
	ctx := context.Background()
	req, err := f.svc.CreateRefundRequest(ctx, createInput())
	require.NoError(t, err)
	req, err = f.svc.ReviewRefundRequest(ctx, ReviewInput{RefundRequestID: req.ID, AdminID: uuid.New(), Decision: enums.RefundStatusApproved})
	require.NoError(t, err)
	return req
}

func (f fixture) history(t *testing.T, id uuid.UUID) []models.RefundStatusEntry {
	t.Helper()
	rows, err := f.svc.ListStatusHistory(context.Background(), id)
	require.NoError(t, err)
	return rows
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

func TestCreateRefundRequestRecordsAudit(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	input := createInput()
	long := strings.Repeat("é", 600)
	input.UserMessage = &long
	req, err := f.svc.CreateRefundRequest(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, enums.RefundStatusPending, req.Status)
	require.NotNil(t, req.UserMessage)
	assert.Equal(t, 500, len([]rune(*req.UserMessage)))

	history := f.history(t, req.ID)
	require.Len(t, history, 1)
	assert.Equal(t, enums.RefundStatusPending, history[0].Status)
	assert.Equal(t, "user", history[0].ChangedBy)
	assert.Equal(t, "Refund request submitted", history[0].Reason)
	assert.Equal(t, int64(1), countOutbox(t, f.conn, enums.EventRefundRequested))
}

func TestCreateRefundRequestValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	zero := createInput()
	zero.AmountCents = 0
	_, err := f.svc.CreateRefundRequest(ctx, zero)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	badReason := createInput()
	badReason.Reason = "angry"
	_, err = f.svc.CreateRefundRequest(ctx, badReason)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	noIntent := createInput()
	noIntent.PaymentIntentID = "  "
	_, err = f.svc.CreateRefundRequest(ctx, noIntent)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReviewOnlyFromPending(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	req, err := f.svc.CreateRefundRequest(ctx, createInput())
	require.NoError(t, err)

	notes := "Duplicate of an earlier request"
	admin := uuid.New()
	denied, err := f.svc.ReviewRefundRequest(ctx, ReviewInput{RefundRequestID: req.ID, AdminID: admin, Decision: enums.RefundStatusDenied, AdminNotes: &notes})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusDenied, denied.Status)
	require.NotNil(t, denied.ReviewedAt)
	require.NotNil(t, denied.AdminID)
	assert.Equal(t, admin, *denied.AdminID)
	require.NotNil(t, denied.AdminNotes)
	assert.Equal(t, notes, *denied.AdminNotes)

	_, err = f.svc.ReviewRefundRequest(ctx, ReviewInput{RefundRequestID: req.ID, AdminID: admin, Decision: enums.RefundStatusApproved})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: admin})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Zero(t, f.proc.callCount())

	history := f.history(t, req.ID)
	require.Len(t, history, 2)
	assert.Equal(t, notes, history[1].Reason)
	assert.Equal(t, "admin:"+admin.String(), history[1].ChangedBy)
}

func TestReviewRejectsUnknownDecision(t *testing.T) {
	f := newFixture(t, nil, nil)
	req, err := f.svc.CreateRefundRequest(context.Background(), createInput())
	require.NoError(t, err)

	_, err = f.svc.ReviewRefundRequest(context.Background(), ReviewInput{RefundRequestID: req.ID, AdminID: uuid.New(), Decision: enums.RefundStatusProcessed})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReviewMissingRequest(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.svc.ReviewRefundRequest(context.Background(), ReviewInput{RefundRequestID: uuid.New(), AdminID: uuid.New(), Decision: enums.RefundStatusApproved})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestProcessRefundHandsOffToProcessor(t *testing.T) {
	f := newFixture(t, &stubProcessor{id: "re_full"}, nil)
	ctx := context.Background()
	req := f.approved(t)

	processed, err := f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, enums.RefundStatusProcessed, processed.Status)
	require.NotNil(t, processed.StripeRefundStatus)
	assert.Equal(t, enums.StripeRefundPending, *processed.StripeRefundStatus)
	require.NotNil(t, processed.RefundIntentID)
	assert.Equal(t, "re_full", *processed.RefundIntentID)
	require.NotNil(t, processed.RefundedAmountCents)
	assert.Equal(t, req.AmountCents, *processed.RefundedAmountCents)
	require.NotNil(t, processed.RefundMethod)
	assert.Equal(t, "stripe", *processed.RefundMethod)
	assert.NotNil(t, processed.ProcessedAt)
	assert.Nil(t, processed.ProcessingToken)

	require.Equal(t, 1, f.proc.callCount())
	call := f.proc.calls[0]
	assert.Equal(t, req.PaymentIntentID, call.PaymentIntentID)
	assert.Equal(t, "refund-request-"+req.ID.String(), call.IdempotencyKey)
	assert.Equal(t, req.ID.String(), call.RefundRequestID)

	_, err = f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 1, f.proc.callCount())
}

func TestProcessRefundPartialAmount(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	req := f.approved(t)

	tooMuch := req.AmountCents + 1
	_, err := f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New(), RefundAmountCents: &tooMuch})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Zero(t, f.proc.callCount())

	partial := int64(1200)
	processed, err := f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New(), RefundAmountCents: &partial})
	require.NoError(t, err)
	assert.Equal(t, partial, *processed.RefundedAmountCents)
	assert.Equal(t, partial, f.proc.calls[0].AmountCents)
}

func TestProcessRefundFailureKeepsApproved(t *testing.T) {
	rejected := pkgerrors.New(pkgerrors.CodeValidation, "stripe rejected refund")
	f := newFixture(t, &stubProcessor{id: "re_after", errs: []error{rejected}}, nil)
	ctx := context.Background()
	req := f.approved(t)

	_, err := f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.False(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, 1, f.proc.callCount())

	stored, err := f.svc.GetRefundRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusApproved, stored.Status)
	assert.Nil(t, stored.ProcessingToken)
	assert.Nil(t, stored.RefundIntentID)

	processed, err := f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusProcessed, processed.Status)
}

func TestProcessRefundRetriesTransientFailures(t *testing.T) {
	transient := pkgerrors.New(pkgerrors.CodeDependency, "stripe temporarily unavailable")
	f := newFixture(t, &stubProcessor{id: "re_retry", errs: []error{transient, transient}}, nil)
	req := f.approved(t)

	processed, err := f.svc.ProcessRefund(context.Background(), ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, "re_retry", *processed.RefundIntentID)
	assert.Equal(t, 3, f.proc.callCount())
	for _, call := range f.proc.calls {
		assert.Equal(t, IdempotencyKey(req.ID), call.IdempotencyKey)
	}
}

func TestProcessRefundGivesUpAfterRetries(t *testing.T) {
	transient := pkgerrors.New(pkgerrors.CodeDependency, "stripe temporarily unavailable")
	f := newFixture(t, &stubProcessor{id: "re_never", errs: []error{transient, transient, transient}}, nil)
	req := f.approved(t)

	_, err := f.svc.ProcessRefund(context.Background(), ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, 3, f.proc.callCount())
}

// flakyRecord fails the first processed write, as a dropped connection would
// after the processor already accepted the refund.
type flakyRecord struct {
	Repository
	failures *int
}

func (r flakyRecord) WithTx(tx *gorm.DB) Repository {
	return flakyRecord{Repository: r.Repository.WithTx(tx), failures: r.failures}
}

func (r flakyRecord) UpdateGuarded(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error) {
	if guard.ProcessingToken != nil && *r.failures > 0 {
		*r.failures--
		return false, errors.New("connection reset by peer")
	}
	return r.Repository.UpdateGuarded(ctx, id, guard, updates)
}

func TestProcessRefundRecordFailureReleasesClaim(t *testing.T) {
	failures := 1
	f := newFixture(t, &stubProcessor{id: "re_unrecorded"}, func(conn *gorm.DB) Repository {
		return flakyRecord{Repository: NewRepository(conn), failures: &failures}
	})
	ctx := context.Background()
	req := f.approved(t)

	_, err := f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))

	stored, err := f.svc.GetRefundRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusApproved, stored.Status)
	assert.Nil(t, stored.ProcessingToken)

	f.clock.Advance(time.Minute)
	processed, err := f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, "re_unrecorded", *processed.RefundIntentID)
	assert.Equal(t, 2, f.proc.callCount())
	assert.Equal(t, f.proc.calls[0].IdempotencyKey, f.proc.calls[1].IdempotencyKey)
}

func TestConcurrentProcessCallsProcessorOnce(t *testing.T) {
	proc := &stubProcessor{id: "re_once", entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, proc, nil)
	ctx := context.Background()
	req := f.approved(t)

	var (
		first    *models.RefundRequest
		firstErr error
		done     = make(chan struct{})
	)
	go func() {
		defer close(done)
		first, firstErr = f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	}()

	<-proc.entered
	_, secondErr := f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	close(proc.release)
	<-done

	require.NoError(t, firstErr)
	assert.Equal(t, enums.RefundStatusProcessed, first.Status)
	assert.True(t, pkgerrors.IsCode(secondErr, pkgerrors.CodeConcurrency))
	assert.Equal(t, 1, proc.callCount())
}

func TestStaleClaimCanBeTakenOver(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	req := f.approved(t)

	repo := NewRepository(f.conn)
	claimed, err := repo.Claim(ctx, req.ID, "abandoned", f.clock.Now(), f.clock.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConcurrency))
	assert.Zero(t, f.proc.callCount())

	f.clock.Advance(11 * time.Minute)
	processed, err := f.svc.ProcessRefund(ctx, ProcessInput{RefundRequestID: req.ID, AdminID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusProcessed, processed.Status)
}

func TestPendingQueueAndStatusFilter(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	pending, err := f.svc.CreateRefundRequest(ctx, createInput())
	require.NoError(t, err)
	approved := f.approved(t)
	denied, err := f.svc.CreateRefundRequest(ctx, createInput())
	require.NoError(t, err)
	_, err = f.svc.ReviewRefundRequest(ctx, ReviewInput{RefundRequestID: denied.ID, AdminID: uuid.New(), Decision: enums.RefundStatusDenied})
	require.NoError(t, err)

	queue, err := f.svc.GetPendingRefundRequests(ctx)
	require.NoError(t, err)
	ids := []uuid.UUID{}
	for _, row := range queue {
		ids = append(ids, row.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{pending.ID, approved.ID}, ids)

	rows, err := f.svc.GetRefundRequestsByStatus(ctx, enums.RefundStatusDenied)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, denied.ID, rows[0].ID)

	_, err = f.svc.GetRefundRequestsByStatus(ctx, "lost")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	mine, err := f.svc.GetUserRefundRequests(ctx, pending.UserID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, pending.ID, mine[0].ID)
}

func TestListStatusHistoryMissingRequest(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.svc.ListStatusHistory(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
