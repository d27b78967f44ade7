package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/internal/subscriptions"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
)

const (
	sweepBatchSize = 200
	// pastDueGrace is how long a lapsed subscription may sit in dunning
	// before the sweep expires it.
	pastDueGrace = 7 * 24 * time.Hour
)

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sweepReader interface {
	ListDueForSweep(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, to enums.SubscriptionStatus, updates map[string]any) (bool, error)
}

type sweepTransitioner interface {
	TransitionStatus(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, to enums.SubscriptionStatus, updates map[string]any) (bool, error)
}

type sweepTxFactory func(tx *gorm.DB) sweepTransitioner

func defaultSweepTransitioner(tx *gorm.DB) sweepTransitioner {
	return subscriptions.NewRepository(tx)
}

// PeriodEndSweepJobParams configure the period-end sweep.
type PeriodEndSweepJobParams struct {
	Logger            *logger.Logger
	DB                txRunner
	Subscriptions     sweepReader
	TransactionalRepo sweepTxFactory
	Outbox            outboxEmitter
	Grace             time.Duration
	BatchSize         int
}

// NewPeriodEndSweepJob builds the cron job that settles subscriptions whose
// billing period lapsed without a renewal: auto-renew-off rows close as
// canceled, dunning rows past the grace window expire, and the rest enter
// dunning for the renewal retry job.
func NewPeriodEndSweepJob(params PeriodEndSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	txRepo := params.TransactionalRepo
	if txRepo == nil {
		txRepo = defaultSweepTransitioner
	}
	grace := params.Grace
	if grace <= 0 {
		grace = pastDueGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = sweepBatchSize
	}
	return &periodEndSweepJob{
		logg:   params.Logger,
		db:     params.DB,
		reader: params.Subscriptions,
		txRepo: txRepo,
		box:    params.Outbox,
		grace:  grace,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type periodEndSweepJob struct {
	logg   *logger.Logger
	db     txRunner
	reader sweepReader
	txRepo sweepTxFactory
	box    outboxEmitter
	grace  time.Duration
	batch  int
	now    func() time.Time
}

func (j *periodEndSweepJob) Name() string { return "subscription-period-end-sweep" }

func (j *periodEndSweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	due, err := j.reader.ListDueForSweep(ctx, now, j.batch)
	if err != nil {
		return fmt.Errorf("listing lapsed subscriptions: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var errs []error
	closed, expired, dunned := 0, 0, 0
	for i := range due {
		subscription := &due[i]
		subCtx := j.logg.WithSubscriptionID(ctx, subscription.ID.String())
		switch {
		case !subscription.AutoRenew:
			if err := j.close(subCtx, subscription, enums.SubscriptionStatusCanceled, now, "period ended with auto-renew off"); err != nil {
				errs = append(errs, err)
				continue
			}
			closed++
		case subscription.Status == enums.SubscriptionStatusTrialing:
			if err := j.close(subCtx, subscription, enums.SubscriptionStatusExpired, now, "trial lapsed without conversion"); err != nil {
				errs = append(errs, err)
				continue
			}
			expired++
		case subscription.Status == enums.SubscriptionStatusPastDue:
			if now.Before(subscription.CurrentPeriodEnd.Add(j.grace)) {
				continue
			}
			if err := j.close(subCtx, subscription, enums.SubscriptionStatusExpired, now, "dunning exhausted"); err != nil {
				errs = append(errs, err)
				continue
			}
			expired++
		default:
			applied, err := j.reader.TransitionStatus(subCtx, subscription.ID, subscription.Status, enums.SubscriptionStatusPastDue, nil)
			if err != nil {
				errs = append(errs, fmt.Errorf("marking subscription %s past due: %w", subscription.ID, err))
				continue
			}
			if applied {
				dunned++
			}
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":      len(due),
		"canceled": closed,
		"expired":  expired,
		"past_due": dunned,
	})
	j.logg.Info(logCtx, "period end sweep complete")
	return multierr.Combine(errs...)
}

// close settles one subscription in a terminal state and reports it on the
// outbox within the same transaction. A lost CAS means a concurrent writer
// already handled the row.
func (j *periodEndSweepJob) close(ctx context.Context, subscription *models.Subscription, target enums.SubscriptionStatus, now time.Time, reason string) error {
	updates := map[string]any{"auto_renew": false}
	eventType := enums.OutboxEventSubscriptionExpired
	if target == enums.SubscriptionStatusCanceled {
		updates["canceled_at"] = now
		eventType = enums.OutboxEventSubscriptionCanceled
	}

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := j.txRepo(tx).TransitionStatus(ctx, subscription.ID, subscription.Status, target, updates)
		if err != nil {
			return err
		}
		if !applied {
			j.logg.Warn(ctx, "subscription moved before the sweep reached it")
			return nil
		}
		return j.box.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   subscription.ID,
			Data: map[string]any{
				"subscriptionId": subscription.ID.String(),
				"userId":         subscription.UserID.String(),
				"provider":       subscription.Provider.String(),
				"status":         target.String(),
				"reason":         reason,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("closing subscription %s: %w", subscription.ID, err)
	}
	return nil
}
