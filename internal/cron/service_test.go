package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type fakeLock struct {
	held     bool
	acquires int
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.acquires++
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type recordingJob struct {
	name        string
	err         error
	runs        int
	hadDeadline bool
}

func (j *recordingJob) Name() string { return j.name }

func (j *recordingJob) Run(ctx context.Context) error {
	j.runs++
	_, j.hadDeadline = ctx.Deadline()
	return j.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	})
	require.NoError(t, err)
	return service
}

func TestRunCycleRunsEveryJobDespiteFailures(t *testing.T) {
	sweep := &recordingJob{name: "period-end-sweep", err: errors.New("boom")}
	recovery := &recordingJob{name: "refund-recovery"}
	lock := &fakeLock{}

	service := newTestService(t, lock, sweep, recovery)
	require.NoError(t, service.runCycle(context.Background()))

	assert.Equal(t, 1, sweep.runs)
	assert.Equal(t, 1, recovery.runs, "later jobs still run after a failure")
	assert.Equal(t, 1, lock.releases, "lock released after the cycle")
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &recordingJob{name: "renewal-retry"}
	lock := &fakeLock{held: true}

	service := newTestService(t, lock, job)
	require.NoError(t, service.runCycle(context.Background()))

	assert.Zero(t, job.runs)
	assert.Zero(t, lock.releases, "a lock we never acquired is not released")
}

func TestRunJobAppliesDeadline(t *testing.T) {
	job := &recordingJob{name: "period-end-sweep"}

	service := newTestService(t, &fakeLock{}, job)
	require.NoError(t, service.runCycle(context.Background()))

	assert.True(t, job.hadDeadline, "jobs run under the per-job timeout")
}
