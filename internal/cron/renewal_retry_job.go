package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

const renewalRetryBatchSize = 100

type pastDueLister interface {
	ListPastDue(ctx context.Context, limit int) ([]models.Subscription, error)
}

type subscriptionRenewer interface {
	Renew(ctx context.Context, subscriptionID uuid.UUID, manual bool) (*models.Subscription, error)
}

// RenewalRetryJobParams configure the dunning retry loop.
type RenewalRetryJobParams struct {
	Logger        *logger.Logger
	Subscriptions pastDueLister
	Renewer       subscriptionRenewer
	BatchSize     int
}

// NewRenewalRetryJob builds the cron job that re-attempts billing for
// subscriptions in dunning. Declines and contended rows are left for the next
// cycle; the period-end sweep expires rows that never recover.
func NewRenewalRetryJob(params RenewalRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions lister required")
	}
	if params.Renewer == nil {
		return nil, fmt.Errorf("renewer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = renewalRetryBatchSize
	}
	return &renewalRetryJob{
		logg:    params.Logger,
		lister:  params.Subscriptions,
		renewer: params.Renewer,
		batch:   batch,
	}, nil
}

type renewalRetryJob struct {
	logg    *logger.Logger
	lister  pastDueLister
	renewer subscriptionRenewer
	batch   int
}

func (j *renewalRetryJob) Name() string { return "subscription-renewal-retry" }

func (j *renewalRetryJob) Run(ctx context.Context) error {
	pastDue, err := j.lister.ListPastDue(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("listing past due subscriptions: %w", err)
	}
	if len(pastDue) == 0 {
		return nil
	}

	var errs []error
	renewed, declined := 0, 0
	for i := range pastDue {
		subscription := &pastDue[i]
		subCtx := j.logg.WithSubscriptionID(ctx, subscription.ID.String())
		if _, err := j.renewer.Renew(subCtx, subscription.ID, false); err != nil {
			if retryableRenewFailure(err) {
				j.logg.Warn(subCtx, "renewal attempt did not complete")
				declined++
				continue
			}
			errs = append(errs, fmt.Errorf("renewing subscription %s: %w", subscription.ID, err))
			continue
		}
		renewed++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"past_due": len(pastDue),
		"renewed":  renewed,
		"declined": declined,
	})
	j.logg.Info(logCtx, "renewal retry complete")
	return multierr.Combine(errs...)
}

// retryableRenewFailure separates expected per-subscription outcomes from
// operational failures that should fail the job run.
func retryableRenewFailure(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	switch typed.Code() {
	case pkgerrors.CodeDeclined, pkgerrors.CodeStateConflict, pkgerrors.CodeValidation:
		return true
	default:
		return false
	}
}
