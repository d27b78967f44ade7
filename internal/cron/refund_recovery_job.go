package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

const (
	refundRecoveryBatchSize = 100
	// refundStuckAfter is how long a processing refund may wait on its
	// gateway result before recovery starts polling the provider.
	refundStuckAfter = 15 * time.Minute
)

type stuckRefundLister interface {
	ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.RefundRequest, error)
}

type refundRecoverer interface {
	Recover(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error)
}

// RefundRecoveryJobParams configure the stuck-refund recovery loop.
type RefundRecoveryJobParams struct {
	Logger     *logger.Logger
	Refunds    stuckRefundLister
	Recoverer  refundRecoverer
	StuckAfter time.Duration
	BatchSize  int
}

// NewRefundRecoveryJob builds the cron job that settles refund requests left
// in processing by a crash between the durable intent and the gateway result.
func NewRefundRecoveryJob(params RefundRecoveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refunds lister required")
	}
	if params.Recoverer == nil {
		return nil, fmt.Errorf("recoverer required")
	}
	stuckAfter := params.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = refundStuckAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = refundRecoveryBatchSize
	}
	return &refundRecoveryJob{
		logg:       params.Logger,
		lister:     params.Refunds,
		recoverer:  params.Recoverer,
		stuckAfter: stuckAfter,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type refundRecoveryJob struct {
	logg       *logger.Logger
	lister     stuckRefundLister
	recoverer  refundRecoverer
	stuckAfter time.Duration
	batch      int
	now        func() time.Time
}

func (j *refundRecoveryJob) Name() string { return "refund-recovery" }

func (j *refundRecoveryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.stuckAfter)
	stuck, err := j.lister.ListStuckProcessing(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("listing stuck refunds: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	var errs []error
	settled := 0
	for i := range stuck {
		request := &stuck[i]
		reqCtx := j.logg.WithRefundRequestID(ctx, request.ID.String())
		recovered, err := j.recoverer.Recover(reqCtx, request.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("recovering refund %s: %w", request.ID, err))
			continue
		}
		if recovered.Status.IsTerminal() {
			settled++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stuck":   len(stuck),
		"settled": settled,
	})
	j.logg.Info(logCtx, "refund recovery complete")
	return multierr.Combine(errs...)
}
