package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestration counters. Built at startup against an
// explicit registry and passed into constructors, never a package global.
type Metrics struct {
	ResponsesTotal       *prometheus.CounterVec
	ActionsTotal         *prometheus.CounterVec
	OrchestrationSeconds prometheus.Histogram
	BridgeChecksTotal    *prometheus.CounterVec
	NearLimitTotal       prometheus.Counter
}

// NewMetrics registers the metric set on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ResponsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "responses_total",
			Help:      "Threat responses by terminal status.",
		}, []string{"status"}),
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "actions_total",
			Help:      "Response actions executed, by type and outcome.",
		}, []string{"type", "outcome"}),
		OrchestrationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aegis",
			Name:      "orchestration_seconds",
			Help:      "End-to-end orchestration latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		BridgeChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "bridge_checks_total",
			Help:      "Rate-limit bridge checks by outcome.",
		}, []string{"outcome"}),
		NearLimitTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "near_limit_escalations_total",
			Help:      "Background orchestrations triggered by near-limit consumption.",
		}),
	}
}

// ObserveAction records one action outcome.
func (m *Metrics) ObserveAction(t ActionType, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ActionsTotal.WithLabelValues(string(t), outcome).Inc()
}

// ObserveResponse records a terminal response status.
func (m *Metrics) ObserveResponse(status ResponseStatus) {
	m.ResponsesTotal.WithLabelValues(string(status)).Inc()
}

// ObserveBridgeCheck records a bridge check outcome: allowed, blocked,
// bypassed, or fail_open.
func (m *Metrics) ObserveBridgeCheck(outcome string) {
	m.BridgeChecksTotal.WithLabelValues(outcome).Inc()
}
