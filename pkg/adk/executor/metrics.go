package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "supportagent"

// Metrics are the orchestrator's prometheus collectors.
type Metrics struct {
	Rounds        prometheus.Histogram
	Actions       *prometheus.CounterVec
	GateVerdicts  *prometheus.CounterVec
	EngineLatency prometheus.Histogram
	Turns         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "turn_rounds",
			Help:      "Engine rounds needed to answer one user message.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "actions_total",
			Help:      "Dispatched action requests by action and outcome code.",
		}, []string{"action", "outcome"}),
		GateVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "policy_gate_checks_total",
			Help:      "Policy gate checks by action, state and verdict.",
		}, []string{"action", "state", "verdict"}),
		EngineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "engine_latency_seconds",
			Help:      "Latency of reasoning engine calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_total",
			Help:      "Finished user turns by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Rounds, m.Actions, m.GateVerdicts, m.EngineLatency, m.Turns)
	}
	return m
}
