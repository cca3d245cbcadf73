package insight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	memoryx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/memory"
	performancex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/performance"
)

func TestBuildRanksCountsTrendsAndUnits(t *testing.T) {
	t.Parallel()

	taken := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mem := memoryx.Snapshot{
		Customers: map[string]contractx.CustomerProfile{
			"a": {CustomerID: "a", Trend: 0.4},
			"b": {CustomerID: "b", Trend: -0.2},
			"c": {CustomerID: "c", Trend: -0.6},
		},
		CategoryFrequency: map[string]uint64{"sales": 9, "support": 4, "complaints": 4, "inquiry": 1},
		TagFrequency:      map[string]uint64{"price": 7, "login": 2},
		CategoryTrends:    map[string]float64{"complaints": 1.5, "sales": -0.5, "support": 0.2, "inquiry": 0},
		TakenAt:           taken,
	}
	perf := performancex.Snapshot{Units: []contractx.PerformanceStats{
		{UnitID: contractx.UnitSupport, SuccessRate: 0.7, Volume: 20, ConfidenceSum: 14},
		{UnitID: contractx.UnitSales, SuccessRate: 0.9, Volume: 10, ConfidenceSum: 8},
		{UnitID: contractx.UnitComplaints, SuccessRate: 0.7, Volume: 30, ConfidenceSum: 15},
	}}

	report := Build(mem, perf, 2)

	require.Len(t, report.TopCategories, 2)
	assert.Equal(t, Count{Key: "sales", Count: 9}, report.TopCategories[0])
	assert.Equal(t, Count{Key: "complaints", Count: 4}, report.TopCategories[1])
	assert.Equal(t, "price", report.TopTags[0].Key)

	assert.Equal(t, []Trend{{Category: "complaints", Slope: 1.5}, {Category: "support", Slope: 0.2}}, report.Rising)
	assert.Equal(t, []Trend{{Category: "sales", Slope: -0.5}}, report.Falling)

	assert.Equal(t, 3, report.CustomersTracked)
	assert.Equal(t, []string{"b", "c"}, report.DecliningCustomer)

	require.Len(t, report.Leaderboard, 3)
	assert.Equal(t, contractx.UnitSales, report.Leaderboard[0].UnitID)
	assert.Equal(t, contractx.UnitComplaints, report.Leaderboard[1].UnitID)
	assert.InDelta(t, 0.5, report.Leaderboard[1].AverageConfidence, 1e-9)
	assert.Equal(t, uint64(60), report.TotalVolume)
	assert.Equal(t, taken, report.GeneratedAt)
}

func TestBuildEmptySnapshots(t *testing.T) {
	t.Parallel()

	report := Build(memoryx.Snapshot{}, performancex.Snapshot{}, 0)
	assert.Empty(t, report.TopCategories)
	assert.Empty(t, report.Leaderboard)
	assert.Zero(t, report.CustomersTracked)
}
