package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/payment-ledger/internal/payments"
	"github.com/angelmondragon/payment-ledger/pkg/logger"
)

type overdueSweeper interface {
	SweepOverduePayments(ctx context.Context) (payments.SweepResult, error)
}

type OverdueSweepJobParams struct {
	Logger   *logger.Logger
	Payments overdueSweeper
}

// NewOverdueSweepJob flags past-due payments and installments each cycle.
func NewOverdueSweepJob(params OverdueSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	return &overdueSweepJob{logg: params.Logger, payments: params.Payments}, nil
}

type overdueSweepJob struct {
	logg     *logger.Logger
	payments overdueSweeper
}

func (j *overdueSweepJob) Name() string { return "overdue-sweep" }

// Run fails the job when any record failed, after the rest of the batch was
// written.
func (j *overdueSweepJob) Run(ctx context.Context) error {
	result, err := j.payments.SweepOverduePayments(ctx)
	if err != nil {
		return fmt.Errorf("overdue sweep: %d of %d payments failed: %w", result.Failed, result.Scanned, err)
	}
	return nil
}
