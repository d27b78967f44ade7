package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsRecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.ObserveDuration("Period End", 1500*time.Millisecond)
	m.IncSuccess("Period End")
	m.IncFailure("renewal retry")

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}

	success := byName["billing_cron_job_success_total"]
	require.NotNil(t, success)
	require.Len(t, success.Metric, 1)
	require.Equal(t, "period_end", success.Metric[0].Label[0].GetValue())
	require.Equal(t, float64(1), success.Metric[0].Counter.GetValue())

	failure := byName["billing_cron_job_failure_total"]
	require.NotNil(t, failure)
	require.Equal(t, "renewal_retry", failure.Metric[0].Label[0].GetValue())

	duration := byName["billing_cron_job_duration_seconds"]
	require.NotNil(t, duration)
	require.Equal(t, uint64(1), duration.Metric[0].Histogram.GetSampleCount())
}

func TestCronJobMetricsNilReceiver(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveDuration("x", time.Second)
	m.IncSuccess("x")
	m.IncFailure("x")
}

func TestGatewayMetricsRecordsCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGatewayMetrics(reg)

	m.ObserveCall("stripe", "CreatePaymentIntent", "ok", 80*time.Millisecond)
	m.ObserveCall("stripe", "CreatePaymentIntent", "declined", 60*time.Millisecond)
	m.ObserveCall("paypal", "CreateRefund", "dependency", 2*time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)

	var calls *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "billing_gateway_calls_total" {
			calls = f
		}
	}
	require.NotNil(t, calls)
	require.Len(t, calls.Metric, 3)

	var total float64
	for _, metric := range calls.Metric {
		total += metric.Counter.GetValue()
	}
	require.Equal(t, float64(3), total)
}
