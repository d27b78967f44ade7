package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedJob struct {
	name string
}

func (j *namedJob) Name() string              { return j.name }
func (j *namedJob) Run(context.Context) error { return nil }

func TestRegistryPreservesOrder(t *testing.T) {
	sweep := &namedJob{name: "period-end-sweep"}
	retry := &namedJob{name: "renewal-retry"}

	registry := NewRegistry(sweep, retry)

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, Job(sweep), jobs[0])
	assert.Same(t, Job(retry), jobs[1])
}

func TestRegistryReplacesDuplicateNames(t *testing.T) {
	first := &namedJob{name: "refund-recovery"}
	second := &namedJob{name: "refund-recovery"}

	registry := NewRegistry(first, nil)
	registry.Register(second)

	jobs := registry.Jobs()
	require.Len(t, jobs, 1, "nil jobs skipped, duplicate names collapse")
	assert.Same(t, Job(second), jobs[0])
}

func TestRegistryJobsReturnsCopy(t *testing.T) {
	registry := NewRegistry(&namedJob{name: "period-end-sweep"})

	jobs := registry.Jobs()
	jobs[0] = nil

	require.NotNil(t, registry.Jobs()[0])
}
