// Package metrics exposes the Prometheus collectors backing L6 stats
// emission and Coherence Gate observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/swarmguard/gateway/internal/model"
)

// Collectors bundles every metric the gateway emits. Register it once
// against a prometheus.Registerer at startup.
type Collectors struct {
	DispatchTotal      *prometheus.CounterVec
	LayerLatencySecs   *prometheus.HistogramVec
	LayerFailuresTotal *prometheus.CounterVec
	GateEscalations    *prometheus.CounterVec
	GateLambda         prometheus.Histogram
	BreakerState       *prometheus.GaugeVec
}

// New constructs a fresh Collectors set, unregistered.
func New() *Collectors {
	return &Collectors{
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmguard",
			Subsystem: "coordinator",
			Name:      "dispatch_total",
			Help:      "Total number of dispatches, labeled by final verdict.",
		}, []string{"verdict"}),
		LayerLatencySecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swarmguard",
			Subsystem: "coordinator",
			Name:      "layer_latency_seconds",
			Help:      "Per-layer latency, labeled by layer tag.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"layer"}),
		LayerFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmguard",
			Subsystem: "coordinator",
			Name:      "layer_failures_total",
			Help:      "Per-layer internal failures absorbed by the fail policy.",
		}, []string{"layer"}),
		GateEscalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmguard",
			Subsystem: "coherence_gate",
			Name:      "escalations_total",
			Help:      "Coherence Gate scans, labeled by outcome (escalate, smoke_only, pass).",
		}, []string{"outcome"}),
		GateLambda: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swarmguard",
			Subsystem: "coherence_gate",
			Name:      "avg_lambda",
			Help:      "Observed avg-lambda density proxy per scan.",
			Buckets:   prometheus.LinearBuckets(0, 0.5, 20),
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "swarmguard",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open), labeled by backend.",
		}, []string{"backend"}),
	}
}

// MustRegister registers every collector against reg, panicking on failure
// (construction-time only, never on the dispatch path).
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.DispatchTotal,
		c.LayerLatencySecs,
		c.LayerFailuresTotal,
		c.GateEscalations,
		c.GateLambda,
		c.BreakerState,
	)
}

// ObserveLayer records one layer's verdict.
func (c *Collectors) ObserveLayer(v model.LayerVerdict) {
	c.LayerLatencySecs.WithLabelValues(string(v.LayerTag)).Observe(float64(v.LatencyMs) / 1000)
	if v.Error != "" {
		c.LayerFailuresTotal.WithLabelValues(string(v.LayerTag)).Inc()
	}
}

// ObserveDispatch records the final verdict of a dispatch.
func (c *Collectors) ObserveDispatch(verdict model.Verdict) {
	c.DispatchTotal.WithLabelValues(string(verdict)).Inc()
}

// ObserveGate records a Coherence Gate scan outcome.
func (c *Collectors) ObserveGate(lambda float32, escalate, smokeOnly bool) {
	c.GateLambda.Observe(float64(lambda))
	switch {
	case escalate:
		c.GateEscalations.WithLabelValues("escalate").Inc()
	case smokeOnly:
		c.GateEscalations.WithLabelValues("smoke_only").Inc()
	default:
		c.GateEscalations.WithLabelValues("pass").Inc()
	}
}
