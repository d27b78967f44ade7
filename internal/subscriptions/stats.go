package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
)

// Stats reports recurring-revenue figures off the live subscription table.
// Read-only; it never touches the lifecycle paths.
type Stats struct {
	repo Repository
}

// NewStats builds the reporting surface.
func NewStats(repo Repository) (*Stats, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscriptions repo required")
	}
	return &Stats{repo: repo}, nil
}

// Summary is the payload behind the stats endpoint.
type Summary struct {
	MRR         map[string]decimal.Decimal `json:"mrr"`
	ChurnRate   decimal.Decimal            `json:"churnRatePercent"`
	ActiveCount int                        `json:"activeCount"`
}

// MRR normalizes each entitled subscription's plan price to a monthly figure,
// bucketed by billing currency. Quarterly divides by 3, yearly by 12,
// lifetime plans contribute nothing.
func (s *Stats) MRR(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.repo.ListEntitledWithPlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading entitled subscriptions")
	}

	totals := map[string]decimal.Decimal{}
	for _, row := range rows {
		months := row.Plan.Period.Months()
		if months == 0 {
			continue
		}
		currency := decodeMeta(row.Subscription.Metadata).Currency
		if currency == "" {
			continue
		}
		price, ok := row.Plan.Prices.Price(currency)
		if !ok {
			continue
		}
		monthly := price.Div(decimal.NewFromInt(int64(months)))
		totals[currency] = totals[currency].Add(monthly)
	}
	return totals, nil
}

// ChurnRate is cancellations during the month containing ref, divided by the
// live subscriber count at that month's start, as a percentage rounded to two
// decimals. No subscribers at month start means zero churn.
func (s *Stats) ChurnRate(ctx context.Context, ref time.Time) (decimal.Decimal, error) {
	monthStart := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	canceled, err := s.repo.CountCanceledBetween(ctx, monthStart, monthEnd)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting cancellations")
	}
	activeAtStart, err := s.repo.CountActiveAt(ctx, monthStart)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting subscribers at month start")
	}
	if activeAtStart == 0 {
		return decimal.Zero, nil
	}

	rate := decimal.NewFromInt(canceled).
		Div(decimal.NewFromInt(activeAtStart)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	return rate, nil
}

// Summarize bundles MRR and the current month's churn for the stats endpoint.
func (s *Stats) Summarize(ctx context.Context, now time.Time) (*Summary, error) {
	mrr, err := s.MRR(ctx)
	if err != nil {
		return nil, err
	}
	churn, err := s.ChurnRate(ctx, now)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListEntitledWithPlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading entitled subscriptions")
	}

	active := 0
	for _, row := range rows {
		if row.Subscription.Status == enums.SubscriptionStatusActive {
			active++
		}
	}
	return &Summary{MRR: mrr, ChurnRate: churn, ActiveCount: active}, nil
}
