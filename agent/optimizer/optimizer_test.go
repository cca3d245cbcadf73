package optimizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	memoryx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/memory"
	performancex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/performance"
	routerx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/router"
	unitsx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/units"
)

type recordingSink struct {
	mu   sync.Mutex
	runs []contractx.OptimizationRun
	err  error
}

func (s *recordingSink) SaveRun(_ context.Context, run contractx.OptimizationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return s.err
}

func (s *recordingSink) NotifyRun(ctx context.Context, run contractx.OptimizationRun) error {
	return s.SaveRun(ctx, run)
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

type fixture struct {
	router  *routerx.Router
	tracker *performancex.Tracker
	memory  *memoryx.Memory
	prior   *contractx.RouterParameters
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg, err := unitsx.NewRegistry(unitsx.NewSales(), unitsx.NewSupport(), unitsx.NewCoordinator())
	require.NoError(t, err)
	prior := &contractx.RouterParameters{
		Version:    1,
		Weights:    map[contractx.UnitID]float64{contractx.UnitSales: 0.4, contractx.UnitSupport: 0.4, contractx.UnitCoordinator: 0.2},
		Thresholds: map[contractx.UnitID]float64{contractx.UnitSales: 0.5, contractx.UnitSupport: 0.5, contractx.UnitCoordinator: 0.1},
		Fallback:   contractx.UnitCoordinator,
	}
	router, err := routerx.New(reg, prior)
	require.NoError(t, err)
	tracker, err := performancex.NewTracker(performancex.Config{Alpha: 0.2, Prior: 0.5})
	require.NoError(t, err)
	tracker.Register(reg.IDs()...)
	mem, err := memoryx.New(memoryx.Config{HistoryCapacity: 20, TrendBuckets: 24, TrendBucket: time.Hour})
	require.NoError(t, err)
	return fixture{router: router, tracker: tracker, memory: mem, prior: prior}
}

func (f fixture) observe(id contractx.UnitID, n int, confidence float64, resolution contractx.Resolution) {
	for i := 0; i < n; i++ {
		f.tracker.Record(id, confidence, contractx.OutcomeSignal{Resolution: resolution})
	}
}

func testConfig(minObservations uint64) Config {
	cfg := DefaultConfig()
	cfg.MinObservations = minObservations
	return cfg
}

func TestRunAbortsWhenAnyUnitIsUnderObserved(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.observe(contractx.UnitSales, 12, 0.9, contractx.ResolutionResolved)
	f.observe(contractx.UnitSupport, 15, 0.9, contractx.ResolutionEscalated)
	f.observe(contractx.UnitCoordinator, 3, 0.9, contractx.ResolutionResolved)

	sink := &recordingSink{}
	o, err := New(testConfig(10), f.router, f.tracker, f.memory, WithAuditSink(sink))
	require.NoError(t, err)

	run, err := o.Run(context.Background(), contractx.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, contractx.OptimizationAborted, run.State)
	assert.True(t, IsInsufficientData(run))
	assert.Contains(t, run.Reason, "coordinator")
	assert.Equal(t, []contractx.UnitID{contractx.UnitCoordinator}, run.Summary.UnderObserved)
	assert.Nil(t, run.Next)
	assert.Same(t, f.prior, f.router.Parameters())
	assert.Same(t, f.prior, run.Prior)
	assert.Equal(t, contractx.OptimizationAborted, o.State())
	assert.Equal(t, 1, sink.Len())
}

func TestRunCommitsWeightsProportionalToSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.observe(contractx.UnitSales, 10, 0.9, contractx.ResolutionResolved)
	f.observe(contractx.UnitSupport, 10, 0.9, contractx.ResolutionEscalated)
	f.observe(contractx.UnitCoordinator, 10, 0.3, contractx.ResolutionUnknown)

	sink := &recordingSink{}
	o, err := New(testConfig(10), f.router, f.tracker, f.memory, WithAuditSink(sink), WithNotifier(sink))
	require.NoError(t, err)
	assert.Equal(t, contractx.OptimizationIdle, o.State())

	run, err := o.Run(context.Background(), contractx.TriggerManual)
	require.NoError(t, err)
	require.True(t, run.Committed())

	next := f.router.Parameters()
	assert.Same(t, run.Next, next)
	assert.Equal(t, uint64(2), next.Version)

	var total float64
	for _, w := range next.Weights {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Greater(t, next.Weights[contractx.UnitSales], next.Weights[contractx.UnitCoordinator])
	assert.Greater(t, next.Weights[contractx.UnitCoordinator], next.Weights[contractx.UnitSupport])

	sales := f.tracker.SuccessRate(contractx.UnitSales)
	support := f.tracker.SuccessRate(contractx.UnitSupport)
	assert.InDelta(t, sales/(sales+support+0.5), next.Weights[contractx.UnitSales], 1e-9)

	// sales: rate >= 0.8 and confident, lowered; coordinator: low confidence, raised
	assert.InDelta(t, 0.45, next.Thresholds[contractx.UnitSales], 1e-9)
	assert.InDelta(t, 0.5, next.Thresholds[contractx.UnitSupport], 1e-9)
	assert.InDelta(t, 0.15, next.Thresholds[contractx.UnitCoordinator], 1e-9)

	assert.Equal(t, 0.4, f.prior.Weights[contractx.UnitSales])
	assert.Equal(t, uint64(30), run.Summary.TotalVolume)
	assert.Equal(t, 2, sink.Len())
	assert.Len(t, o.Runs(), 1)
}

func TestRunWeightFloorKeepsFailingUnitsReachable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.observe(contractx.UnitSales, 40, 0.9, contractx.ResolutionEscalated)
	f.observe(contractx.UnitSupport, 40, 0.9, contractx.ResolutionEscalated)
	f.observe(contractx.UnitCoordinator, 40, 0.9, contractx.ResolutionEscalated)

	o, err := New(testConfig(10), f.router, f.tracker, f.memory)
	require.NoError(t, err)
	run, err := o.Run(context.Background(), contractx.TriggerManual)
	require.NoError(t, err)
	require.True(t, run.Committed())

	for _, id := range []contractx.UnitID{contractx.UnitSales, contractx.UnitSupport, contractx.UnitCoordinator} {
		assert.InDelta(t, 1.0/3, run.Next.Weights[id], 1e-9)
	}
}

func TestRunThresholdsStayWithinBounds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.observe(contractx.UnitSales, 10, 0.1, contractx.ResolutionResolved)
	f.observe(contractx.UnitSupport, 10, 0.1, contractx.ResolutionResolved)
	f.observe(contractx.UnitCoordinator, 10, 0.1, contractx.ResolutionResolved)

	cfg := testConfig(10)
	cfg.ThresholdStep = 0.5
	o, err := New(cfg, f.router, f.tracker, f.memory)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		run, err := o.Run(context.Background(), contractx.TriggerManual)
		require.NoError(t, err)
		require.True(t, run.Committed())
	}
	for _, th := range f.router.Parameters().Thresholds {
		assert.LessOrEqual(t, th, cfg.MaxThreshold)
		assert.GreaterOrEqual(t, th, cfg.MinThreshold)
	}
}

func TestRunCancelledBeforePublishLeavesParameters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.observe(contractx.UnitSales, 10, 0.9, contractx.ResolutionResolved)
	f.observe(contractx.UnitSupport, 10, 0.9, contractx.ResolutionResolved)
	f.observe(contractx.UnitCoordinator, 10, 0.9, contractx.ResolutionResolved)

	sink := &recordingSink{}
	o, err := New(testConfig(10), f.router, f.tracker, f.memory, WithAuditSink(sink))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := o.Run(ctx, contractx.TriggerManual)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, contractx.OptimizationAborted, run.State)
	assert.Same(t, f.prior, f.router.Parameters())
	assert.Equal(t, 1, sink.Len())
}

type blockingSink struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSink) SaveRun(context.Context, contractx.OptimizationRun) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func TestRunRejectsConcurrentRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	o, err := New(testConfig(10), f.router, f.tracker, f.memory, WithAuditSink(sink))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), contractx.TriggerScheduled)
		done <- err
	}()

	<-sink.entered
	_, err = o.Run(context.Background(), contractx.TriggerManual)
	assert.ErrorIs(t, err, contractx.ErrOptimizationInProgress)

	close(sink.release)
	require.NoError(t, <-done)

	_, err = o.Run(context.Background(), contractx.TriggerManual)
	assert.NoError(t, err)
	assert.Len(t, o.Runs(), 2)
}

func TestRunSurvivesAuditFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.observe(contractx.UnitSales, 10, 0.9, contractx.ResolutionResolved)
	f.observe(contractx.UnitSupport, 10, 0.9, contractx.ResolutionResolved)
	f.observe(contractx.UnitCoordinator, 10, 0.9, contractx.ResolutionResolved)

	o, err := New(testConfig(10), f.router, f.tracker, f.memory, WithAuditSink(&recordingSink{err: errors.New("db down")}))
	require.NoError(t, err)
	run, err := o.Run(context.Background(), contractx.TriggerManual)
	require.NoError(t, err)
	assert.True(t, run.Committed())
}

func TestSummaryCombinesTrackerAndMemory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Now()
	for i, category := range []string{"sales", "sales", "support"} {
		f.memory.Update(contractx.DecisionRecord{
			ID:         string(rune('a' + i)),
			CustomerID: "cust-" + category,
			Category:   category,
			DecidedAt:  now,
		}, contractx.ResolutionResolved, 0.5)
	}

	o, err := New(testConfig(0), f.router, f.tracker, f.memory)
	require.NoError(t, err)
	run, err := o.Run(context.Background(), contractx.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "sales", run.Summary.TopCategory)
	assert.Equal(t, 2, run.Summary.Customers)
	assert.Len(t, run.Summary.SuccessRates, 3)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.MinThreshold = 0.9
	cfg.MaxThreshold = 0.1
	_, err := New(cfg, f.router, f.tracker, f.memory)
	assert.ErrorIs(t, err, contractx.ErrConfiguration)

	_, err = New(DefaultConfig(), nil, f.tracker, f.memory)
	assert.ErrorIs(t, err, contractx.ErrConfiguration)
}
