package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

const namespace = "coordinator"

// Metrics holds the coordinator's Prometheus collectors.
type Metrics struct {
	// Routing
	Decisions     *prometheus.CounterVec
	Unhandled     prometheus.Counter
	RouteDuration prometheus.Histogram

	// Learning
	Outcomes    *prometheus.CounterVec
	Duplicates  prometheus.Counter
	SuccessRate *prometheus.GaugeVec

	// Optimization
	OptimizationRuns  *prometheus.CounterVec
	ParametersVersion prometheus.Gauge
	RoutingWeight     *prometheus.GaugeVec
	RoutingThreshold  *prometheus.GaugeVec

	// Memory
	MemoryResets *prometheus.CounterVec
}

// New registers every collector on reg. A nil reg gets a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Routed conversations by chosen unit",
			},
			[]string{"unit", "fallback"},
		),
		Unhandled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhandled_total",
			Help:      "Conversations no decision unit could answer",
		}),
		RouteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "Duration of one route cycle in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		Outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Applied outcome signals by unit and resolution",
			},
			[]string{"unit", "resolution"},
		),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_outcomes_total",
			Help:      "Outcome signals ignored because the decision was already observed",
		}),
		SuccessRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "unit_success_rate",
				Help:      "Smoothed success rate per unit",
			},
			[]string{"unit"},
		),
		OptimizationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "optimization_runs_total",
				Help:      "Optimization runs by trigger and final state",
			},
			[]string{"trigger", "state"},
		),
		ParametersVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "router_parameters_version",
			Help:      "Version of the published router parameters",
		}),
		RoutingWeight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routing_weight",
				Help:      "Published routing weight per unit",
			},
			[]string{"unit"},
		),
		RoutingThreshold: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routing_threshold",
				Help:      "Published minimum confidence threshold per unit",
			},
			[]string{"unit"},
		),
		MemoryResets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_resets_total",
				Help:      "Global memory resets by scope kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) ObserveDecision(rec contractx.DecisionRecord, seconds float64) {
	if m == nil {
		return
	}
	fallback := "false"
	if rec.Fallback {
		fallback = "true"
	}
	m.Decisions.WithLabelValues(string(rec.UnitID), fallback).Inc()
	m.RouteDuration.Observe(seconds)
}

func (m *Metrics) ObserveUnhandled() {
	if m == nil {
		return
	}
	m.Unhandled.Inc()
}

func (m *Metrics) ObserveOutcome(unit contractx.UnitID, resolution contractx.Resolution, applied bool, successRate float64) {
	if m == nil {
		return
	}
	if !applied {
		m.Duplicates.Inc()
		return
	}
	m.Outcomes.WithLabelValues(string(unit), string(resolution)).Inc()
	m.SuccessRate.WithLabelValues(string(unit)).Set(successRate)
}

func (m *Metrics) ObserveRun(run contractx.OptimizationRun) {
	if m == nil {
		return
	}
	m.OptimizationRuns.WithLabelValues(string(run.Trigger), string(run.State)).Inc()
	if run.Committed() {
		m.ObserveParameters(run.Next)
	}
}

func (m *Metrics) ObserveParameters(p *contractx.RouterParameters) {
	if m == nil || p == nil {
		return
	}
	m.ParametersVersion.Set(float64(p.Version))
	for id, w := range p.Weights {
		m.RoutingWeight.WithLabelValues(string(id)).Set(w)
	}
	for id, th := range p.Thresholds {
		m.RoutingThreshold.WithLabelValues(string(id)).Set(th)
	}
}

func (m *Metrics) ObserveReset(kind contractx.ResetKind) {
	if m == nil {
		return
	}
	m.MemoryResets.WithLabelValues(string(kind)).Inc()
}
