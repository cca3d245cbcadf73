package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

func TestObserversUpdateCollectors(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	m.ObserveDecision(contractx.DecisionRecord{UnitID: contractx.UnitSales}, 0.01)
	m.ObserveDecision(contractx.DecisionRecord{UnitID: contractx.UnitCoordinator, Fallback: true}, 0.02)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("sales", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("coordinator", "true")))

	m.ObserveOutcome(contractx.UnitSales, contractx.ResolutionResolved, true, 0.6)
	m.ObserveOutcome(contractx.UnitSales, contractx.ResolutionResolved, false, 0.6)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("sales", "resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Duplicates))
	assert.Equal(t, 0.6, testutil.ToFloat64(m.SuccessRate.WithLabelValues("sales")))

	m.ObserveRun(contractx.OptimizationRun{
		Trigger: contractx.TriggerManual,
		State:   contractx.OptimizationCommitted,
		Next: &contractx.RouterParameters{
			Version:    3,
			Weights:    map[contractx.UnitID]float64{contractx.UnitSales: 0.7},
			Thresholds: map[contractx.UnitID]float64{contractx.UnitSales: 0.4},
		},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizationRuns.WithLabelValues("manual", "committed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ParametersVersion))
	assert.Equal(t, 0.7, testutil.ToFloat64(m.RoutingWeight.WithLabelValues("sales")))

	m.ObserveReset(contractx.ResetTag)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryResets.WithLabelValues("tag")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveDecision(contractx.DecisionRecord{}, 0)
	m.ObserveUnhandled()
	m.ObserveRun(contractx.OptimizationRun{})
	m.ObserveReset(contractx.ResetAll)
}
