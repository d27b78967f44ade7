package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics tracks outbound payment-provider API calls, labeled by
// provider, operation, and outcome.
type GatewayMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	m := &GatewayMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Payment provider API calls by outcome.",
		}, []string{"provider", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Latency of payment provider API calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider", "operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.duration)
	}
	return m
}

// ObserveCall records one provider call. Outcome is "ok", "declined",
// "dependency", or "error".
func (m *GatewayMetrics) ObserveCall(provider, operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	provider = normalizeLabel(provider)
	operation = normalizeLabel(operation)
	m.calls.WithLabelValues(provider, operation, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(provider, operation).Observe(d.Seconds())
}
