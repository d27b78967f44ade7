package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type stubPastDueLister struct {
	subs []models.Subscription
}

func (l *stubPastDueLister) ListPastDue(context.Context, int) ([]models.Subscription, error) {
	return l.subs, nil
}

type stubRenewer struct {
	calls   []uuid.UUID
	errByID map[uuid.UUID]error
}

func (r *stubRenewer) Renew(_ context.Context, subscriptionID uuid.UUID, manual bool) (*models.Subscription, error) {
	if manual {
		return nil, errors.New("retry job must renew through the gateway")
	}
	r.calls = append(r.calls, subscriptionID)
	if err := r.errByID[subscriptionID]; err != nil {
		return nil, err
	}
	return &models.Subscription{ID: subscriptionID, Status: enums.SubscriptionStatusActive}, nil
}

func newRetryJob(t *testing.T, lister *stubPastDueLister, renewer *stubRenewer) Job {
	t.Helper()
	job, err := NewRenewalRetryJob(RenewalRetryJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "cron-test"}),
		Subscriptions: lister,
		Renewer:       renewer,
	})
	if err != nil {
		t.Fatalf("building retry job: %v", err)
	}
	return job
}

func TestRenewalRetryAttemptsEveryPastDueSubscription(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	lister := &stubPastDueLister{subs: []models.Subscription{{ID: first}, {ID: second}}}
	renewer := &stubRenewer{errByID: map[uuid.UUID]error{}}

	if err := newRetryJob(t, lister, renewer).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(renewer.calls) != 2 {
		t.Fatalf("expected 2 renewal attempts, got %d", len(renewer.calls))
	}
}

func TestRenewalRetryDeclineDoesNotFailTheRun(t *testing.T) {
	declined, healthy := uuid.New(), uuid.New()
	lister := &stubPastDueLister{subs: []models.Subscription{{ID: declined}, {ID: healthy}}}
	renewer := &stubRenewer{errByID: map[uuid.UUID]error{
		declined: pkgerrors.New(pkgerrors.CodeDeclined, "card declined"),
	}}

	if err := newRetryJob(t, lister, renewer).Run(context.Background()); err != nil {
		t.Fatalf("declines must not fail the run: %v", err)
	}
	if len(renewer.calls) != 2 {
		t.Fatalf("decline must not stop the batch, got %d attempts", len(renewer.calls))
	}
}

func TestRenewalRetrySurfacesOperationalErrors(t *testing.T) {
	broken := uuid.New()
	lister := &stubPastDueLister{subs: []models.Subscription{{ID: broken}}}
	renewer := &stubRenewer{errByID: map[uuid.UUID]error{
		broken: pkgerrors.New(pkgerrors.CodeInternal, "database down"),
	}}

	if err := newRetryJob(t, lister, renewer).Run(context.Background()); err == nil {
		t.Fatalf("operational failures must surface from the run")
	}
}
