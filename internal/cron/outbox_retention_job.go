package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payment-ledger/pkg/logger"
	"gorm.io/gorm"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error)
}

type dlqCounter interface {
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

type pendingCounter interface {
	CountPending() (int64, error)
}

// OutboxRetentionJobParams configure outbox pruning. TerminalAttempts must
// match the publisher's max attempts so only dead-lettered rows are pruned.
type OutboxRetentionJobParams struct {
	Logger           *logger.Logger
	DB               txRunner
	Repository       outboxRetentionRepo
	Retention        time.Duration
	TerminalAttempts int
	// DLQ is optional; when set, rows parked since the previous run are
	// reported at warn level.
	DLQ dlqCounter
	// Backlog is optional; when set, the unpublished row count is logged
	// with each cleanup.
	Backlog pendingCounter
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.TerminalAttempts <= 0 {
		return nil, fmt.Errorf("terminal attempts must be positive")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &outboxRetentionJob{
		logg:     params.Logger,
		db:       params.DB,
		repo:     params.Repository,
		retain:   retention,
		terminal: params.TerminalAttempts,
		dlq:      params.DLQ,
		backlog:  params.Backlog,
		now:      time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg     *logger.Logger
	db       txRunner
	repo     outboxRetentionRepo
	retain   time.Duration
	terminal int
	dlq      dlqCounter
	backlog  pendingCounter
	lastRun  time.Time
	now      func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.retain)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.terminal)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	fields := map[string]any{"cutoff": cutoff, "rows_deleted": deleted}
	if j.backlog != nil {
		if pending, err := j.backlog.CountPending(); err == nil {
			fields["pending"] = pending
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox.retention_complete")

	j.reportDLQ(ctx, now)
	return nil
}

// reportDLQ is best effort; a failed count never fails the job.
func (j *outboxRetentionJob) reportDLQ(ctx context.Context, now time.Time) {
	if j.dlq == nil {
		return
	}
	since := j.lastRun
	if since.IsZero() {
		since = now.Add(-24 * time.Hour)
	}
	j.lastRun = now

	parked, err := j.dlq.CountSince(ctx, since)
	if err != nil {
		j.logg.Error(ctx, "count outbox dlq rows", err)
		return
	}
	if parked > 0 {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"since":  since,
			"parked": parked,
		}), "outbox events were dead-lettered")
	}
}
