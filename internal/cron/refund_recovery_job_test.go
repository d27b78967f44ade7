package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type stubStuckLister struct {
	cutoff time.Time
	stuck  []models.RefundRequest
}

func (l *stubStuckLister) ListStuckProcessing(_ context.Context, cutoff time.Time, _ int) ([]models.RefundRequest, error) {
	l.cutoff = cutoff
	return l.stuck, nil
}

type stubRefundRecoverer struct {
	recovered []uuid.UUID
	result    enums.RefundStatus
}

func (r *stubRefundRecoverer) Recover(_ context.Context, requestID uuid.UUID) (*models.RefundRequest, error) {
	r.recovered = append(r.recovered, requestID)
	return &models.RefundRequest{ID: requestID, Status: r.result}, nil
}

func TestRefundRecoveryPollsEveryStuckRequest(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	lister := &stubStuckLister{stuck: []models.RefundRequest{{ID: first}, {ID: second}}}
	recoverer := &stubRefundRecoverer{result: enums.RefundStatusCompleted}

	job, err := NewRefundRecoveryJob(RefundRecoveryJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		Refunds:   lister,
		Recoverer: recoverer,
	})
	if err != nil {
		t.Fatalf("building recovery job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(recoverer.recovered) != 2 {
		t.Fatalf("expected 2 recovery attempts, got %d", len(recoverer.recovered))
	}
}

func TestRefundRecoveryCutoffRespectsStuckWindow(t *testing.T) {
	lister := &stubStuckLister{}
	recoverer := &stubRefundRecoverer{result: enums.RefundStatusProcessing}

	job, err := NewRefundRecoveryJob(RefundRecoveryJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Refunds:    lister,
		Recoverer:  recoverer,
		StuckAfter: time.Hour,
	})
	if err != nil {
		t.Fatalf("building recovery job: %v", err)
	}

	before := time.Now().UTC().Add(-time.Hour)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if lister.cutoff.After(before.Add(time.Minute)) || lister.cutoff.Before(before.Add(-time.Minute)) {
		t.Fatalf("cutoff %s not about one hour ago", lister.cutoff)
	}
}
