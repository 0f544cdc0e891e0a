package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "screening"

// Metrics holds the screening collectors.
type Metrics struct {
	decisions       *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	shortCircuits   *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Screening decisions by outcome.",
		}, []string{"decision"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Provider call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "outcome"}),
		shortCircuits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "override_short_circuits_total",
			Help:      "Screenings decided by an override list without consulting providers.",
		}, []string{"list"}),
	}
	reg.MustRegister(m.decisions, m.providerCalls, m.providerLatency, m.shortCircuits)
	return m
}

// ObserveProvider records one provider call. outcome is success, error, timeout or canceled.
func (m *Metrics) ObserveProvider(provider, outcome string, latency time.Duration) {
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider, outcome).Observe(latency.Seconds())
}

// ObserveDecision counts a final decision.
func (m *Metrics) ObserveDecision(decision string) {
	m.decisions.WithLabelValues(decision).Inc()
}

// ObserveShortCircuit counts a screening answered from an override list.
func (m *Metrics) ObserveShortCircuit(list string) {
	m.shortCircuits.WithLabelValues(list).Inc()
}
