package subscriptions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	dbtypes "github.com/vidorahq/vidora-billing/pkg/db/types"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

func entitledRow(period enums.BillingPeriod, price string) SubscriptionWithPlan {
	meta, _ := json.Marshal(subscriptionMeta{Currency: "USD"})
	return SubscriptionWithPlan{
		Subscription: models.Subscription{
			ID:       uuid.New(),
			Status:   enums.SubscriptionStatusActive,
			Metadata: meta,
		},
		Plan: models.SubscriptionPlan{
			ID:     uuid.New(),
			Period: period,
			Prices: dbtypes.PriceTable{"USD": decimal.RequireFromString(price)},
		},
	}
}

func TestMRRNormalizesPeriodsAndSkipsLifetime(t *testing.T) {
	repo := newStubSubsRepo()
	repo.entitled = []SubscriptionWithPlan{
		entitledRow(enums.BillingPeriodMonthly, "10.00"),
		entitledRow(enums.BillingPeriodQuarterly, "30.00"),
		entitledRow(enums.BillingPeriodLifetime, "200.00"),
	}

	stats, err := NewStats(repo)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	totals, err := stats.MRR(context.Background())
	if err != nil {
		t.Fatalf("mrr: %v", err)
	}

	want := decimal.RequireFromString("20.00")
	if !totals["USD"].Equal(want) {
		t.Fatalf("expected MRR %s, got %s", want, totals["USD"])
	}
}

func TestMRRYearlyDividesByTwelve(t *testing.T) {
	repo := newStubSubsRepo()
	repo.entitled = []SubscriptionWithPlan{
		entitledRow(enums.BillingPeriodYearly, "120.00"),
	}

	stats, _ := NewStats(repo)
	totals, err := stats.MRR(context.Background())
	if err != nil {
		t.Fatalf("mrr: %v", err)
	}
	if !totals["USD"].Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("expected 10.00, got %s", totals["USD"])
	}
}

func TestChurnRateRoundsToTwoDecimals(t *testing.T) {
	repo := newStubSubsRepo()
	repo.canceledCount = 1
	repo.activeAtStart = 3

	stats, _ := NewStats(repo)
	rate, err := stats.ChurnRate(context.Background(), time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("churn: %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("33.33")) {
		t.Fatalf("expected 33.33, got %s", rate)
	}
}

func TestChurnRateZeroSubscribersIsZero(t *testing.T) {
	repo := newStubSubsRepo()
	repo.canceledCount = 2
	repo.activeAtStart = 0

	stats, _ := NewStats(repo)
	rate, err := stats.ChurnRate(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("churn: %v", err)
	}
	if !rate.IsZero() {
		t.Fatalf("expected zero churn, got %s", rate)
	}
}
