package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubEmitter struct {
	events []outbox.DomainEvent
}

func (e *stubEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	e.events = append(e.events, event)
	return nil
}

type stubSweepRepo struct {
	subs map[uuid.UUID]*models.Subscription
	due  []models.Subscription
}

func newStubSweepRepo(subs ...*models.Subscription) *stubSweepRepo {
	repo := &stubSweepRepo{subs: map[uuid.UUID]*models.Subscription{}}
	for _, sub := range subs {
		repo.subs[sub.ID] = sub
		repo.due = append(repo.due, *sub)
	}
	return repo
}

func (r *stubSweepRepo) ListDueForSweep(_ context.Context, _ time.Time, _ int) ([]models.Subscription, error) {
	return r.due, nil
}

func (r *stubSweepRepo) TransitionStatus(_ context.Context, id uuid.UUID, from enums.SubscriptionStatus, to enums.SubscriptionStatus, updates map[string]any) (bool, error) {
	sub, ok := r.subs[id]
	if !ok || sub.Status != from {
		return false, nil
	}
	sub.Status = to
	if at, ok := updates["canceled_at"].(time.Time); ok {
		sub.CanceledAt = &at
	}
	if renew, ok := updates["auto_renew"].(bool); ok {
		sub.AutoRenew = renew
	}
	return true, nil
}

func lapsedSubscription(status enums.SubscriptionStatus, autoRenew bool, periodEndedAgo time.Duration) *models.Subscription {
	now := time.Now().UTC()
	return &models.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		Provider:           enums.ProviderStripe,
		Status:             status,
		AutoRenew:          autoRenew,
		CurrentPeriodStart: now.Add(-periodEndedAgo - 30*24*time.Hour),
		CurrentPeriodEnd:   now.Add(-periodEndedAgo),
	}
}

func newSweepJob(t *testing.T, repo *stubSweepRepo, emitter *stubEmitter) Job {
	t.Helper()
	job, err := NewPeriodEndSweepJob(PeriodEndSweepJobParams{
		Logger:            logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:                stubTxRunner{},
		Subscriptions:     repo,
		TransactionalRepo: func(*gorm.DB) sweepTransitioner { return repo },
		Outbox:            emitter,
	})
	if err != nil {
		t.Fatalf("building sweep job: %v", err)
	}
	return job
}

func TestPeriodEndSweepCancelsAutoRenewOff(t *testing.T) {
	sub := lapsedSubscription(enums.SubscriptionStatusActive, false, time.Hour)
	repo := newStubSweepRepo(sub)
	emitter := &stubEmitter{}

	if err := newSweepJob(t, repo, emitter).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := repo.subs[sub.ID]
	if got.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
	if got.CanceledAt == nil {
		t.Fatalf("expected canceled_at to be set")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.OutboxEventSubscriptionCanceled {
		t.Fatalf("expected one subscription.canceled event, got %+v", emitter.events)
	}
}

func TestPeriodEndSweepExpiresLapsedTrial(t *testing.T) {
	sub := lapsedSubscription(enums.SubscriptionStatusTrialing, true, time.Hour)
	repo := newStubSweepRepo(sub)
	emitter := &stubEmitter{}

	if err := newSweepJob(t, repo, emitter).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if repo.subs[sub.ID].Status != enums.SubscriptionStatusExpired {
		t.Fatalf("expected expired, got %s", repo.subs[sub.ID].Status)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.OutboxEventSubscriptionExpired {
		t.Fatalf("expected one subscription.expired event, got %+v", emitter.events)
	}
}

func TestPeriodEndSweepMovesActiveIntoDunning(t *testing.T) {
	sub := lapsedSubscription(enums.SubscriptionStatusActive, true, time.Hour)
	repo := newStubSweepRepo(sub)
	emitter := &stubEmitter{}

	if err := newSweepJob(t, repo, emitter).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if repo.subs[sub.ID].Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", repo.subs[sub.ID].Status)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("entering dunning must not emit events, got %+v", emitter.events)
	}
}

func TestPeriodEndSweepExpiresDunningOnlyPastGrace(t *testing.T) {
	fresh := lapsedSubscription(enums.SubscriptionStatusPastDue, true, time.Hour)
	exhausted := lapsedSubscription(enums.SubscriptionStatusPastDue, true, pastDueGrace+time.Hour)
	repo := newStubSweepRepo(fresh, exhausted)
	emitter := &stubEmitter{}

	if err := newSweepJob(t, repo, emitter).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if repo.subs[fresh.ID].Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("dunning inside grace must stay past_due, got %s", repo.subs[fresh.ID].Status)
	}
	if repo.subs[exhausted.ID].Status != enums.SubscriptionStatusExpired {
		t.Fatalf("dunning past grace must expire, got %s", repo.subs[exhausted.ID].Status)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one expiry event, got %d", len(emitter.events))
	}
}
