package learning

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	memoryx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/memory"
	performancex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/performance"
)

type failingSeenSet struct{}

func (failingSeenSet) MarkSeen(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}

type outcomeLog map[string]bool

func (l outcomeLog) OutcomeApplied(_ context.Context, id string) (bool, error) {
	if id == "broken" {
		return false, errors.New("db down")
	}
	return l[id], nil
}

func newTestEngine(t *testing.T) (*Engine, *performancex.Tracker, *memoryx.Memory) {
	t.Helper()
	tracker, err := performancex.NewTracker(performancex.Config{Alpha: 0.2, Prior: 0.5})
	require.NoError(t, err)
	mem, err := memoryx.New(memoryx.Config{HistoryCapacity: 5, TrendBuckets: 24, TrendBucket: time.Hour})
	require.NoError(t, err)
	engine, err := NewEngine(tracker, mem, nil)
	require.NoError(t, err)
	return engine, tracker, mem
}

func decision(id string) contractx.DecisionRecord {
	return contractx.DecisionRecord{
		ID:             id,
		ConversationID: "conv-" + id,
		CustomerID:     "cust-1",
		UnitID:         contractx.UnitSales,
		Confidence:     0.8,
		Category:       "sales",
		Tags:           []string{"price"},
		DecidedAt:      time.Now(),
	}
}

func TestObserveAppliesOnceAndIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	engine, tracker, mem := newTestEngine(t)
	rec := decision("d-1")
	outcome := contractx.OutcomeSignal{DecisionID: rec.ID, Resolution: contractx.ResolutionResolved}

	applied, err := engine.Observe(context.Background(), rec, outcome)
	require.NoError(t, err)
	assert.True(t, applied)

	stats, _ := tracker.Stats(contractx.UnitSales)
	assert.InDelta(t, 0.6, stats.SuccessRate, 1e-9)
	assert.Equal(t, uint64(1), stats.Volume)

	for i := 0; i < 3; i++ {
		applied, err = engine.Observe(context.Background(), rec, outcome)
		require.NoError(t, err)
		assert.False(t, applied)
	}

	after, _ := tracker.Stats(contractx.UnitSales)
	assert.Equal(t, stats, after)

	profile, ok := mem.Profile("cust-1")
	require.True(t, ok)
	assert.Len(t, profile.History, 1)
	assert.Equal(t, uint64(1), mem.Snapshot().CategoryFrequency["sales"])
}

func TestObserveConcurrentDuplicatesApplyExactlyOnce(t *testing.T) {
	t.Parallel()

	engine, tracker, _ := newTestEngine(t)
	rec := decision("d-shared")

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := engine.Observe(context.Background(), rec, contractx.OutcomeSignal{Resolution: contractx.ResolutionEscalated})
			if err == nil && ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, uint64(1), tracker.Volume(contractx.UnitSales))
}

func TestObserveUnknownKeepsRateAndUsesCorroboration(t *testing.T) {
	t.Parallel()

	engine, tracker, mem := newTestEngine(t)
	applied, err := engine.Observe(context.Background(), decision("d-1"), contractx.OutcomeSignal{})
	require.NoError(t, err)
	require.True(t, applied)

	stats, _ := tracker.Stats(contractx.UnitSales)
	assert.Equal(t, 0.5, stats.SuccessRate)
	assert.Equal(t, uint64(1), stats.Unknown)

	// corroboration 0.5 gives a neutral signal
	profile, _ := mem.Profile("cust-1")
	assert.InDelta(t, 0.0, profile.Trend, 1e-9)
}

func TestObserveValidation(t *testing.T) {
	t.Parallel()

	engine, tracker, _ := newTestEngine(t)
	bad := 1.5

	cases := []struct {
		name    string
		rec     contractx.DecisionRecord
		outcome contractx.OutcomeSignal
	}{
		{name: "empty decision id", rec: decision(""), outcome: contractx.OutcomeSignal{Resolution: contractx.ResolutionResolved}},
		{name: "mismatched decision id", rec: decision("d-1"), outcome: contractx.OutcomeSignal{DecisionID: "d-2", Resolution: contractx.ResolutionResolved}},
		{name: "unknown resolution", rec: decision("d-1"), outcome: contractx.OutcomeSignal{Resolution: "maybe"}},
		{name: "feedback out of range", rec: decision("d-1"), outcome: contractx.OutcomeSignal{Resolution: contractx.ResolutionResolved, Feedback: &bad}},
	}
	for _, tc := range cases {
		applied, err := engine.Observe(context.Background(), tc.rec, tc.outcome)
		assert.ErrorIs(t, err, contractx.ErrValidation, tc.name)
		assert.False(t, applied, tc.name)
	}
	assert.Zero(t, tracker.Volume(contractx.UnitSales))
}

func TestObserveSeenSetFailureAppliesNothing(t *testing.T) {
	t.Parallel()

	tracker, err := performancex.NewTracker(performancex.Config{Alpha: 0.2, Prior: 0.5})
	require.NoError(t, err)
	mem, err := memoryx.New(memoryx.Config{HistoryCapacity: 5, TrendBuckets: 24, TrendBucket: time.Hour})
	require.NoError(t, err)
	engine, err := NewEngine(tracker, mem, failingSeenSet{})
	require.NoError(t, err)

	applied, err := engine.Observe(context.Background(), decision("d-1"), contractx.OutcomeSignal{Resolution: contractx.ResolutionResolved})
	require.Error(t, err)
	assert.False(t, applied)
	assert.Zero(t, tracker.Volume(contractx.UnitSales))
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(nil, nil, nil)
	assert.ErrorIs(t, err, contractx.ErrConfiguration)
}

func TestLRUSeenSetEvictsOldest(t *testing.T) {
	t.Parallel()

	seen, err := NewLRUSeenSet(2)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		first, err := seen.MarkSeen(ctx, id)
		require.NoError(t, err)
		assert.True(t, first)
	}
	first, _ := seen.MarkSeen(ctx, "a")
	assert.False(t, first)

	first, _ = seen.MarkSeen(ctx, "c")
	assert.True(t, first)
	assert.Equal(t, 2, seen.Len())

	_, err = NewLRUSeenSet(0)
	assert.ErrorIs(t, err, contractx.ErrConfiguration)
}

func TestDurableSeenSetHonoursPersistedOutcomes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	local, err := NewLRUSeenSet(10)
	require.NoError(t, err)
	seen, err := NewDurableSeenSet(local, outcomeLog{"applied-before-restart": true})
	require.NoError(t, err)

	first, err := seen.MarkSeen(ctx, "applied-before-restart")
	require.NoError(t, err)
	assert.False(t, first)

	first, err = seen.MarkSeen(ctx, "new")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = seen.MarkSeen(ctx, "new")
	require.NoError(t, err)
	assert.False(t, first)

	_, err = seen.MarkSeen(ctx, "broken")
	require.Error(t, err)
	first, err = seen.MarkSeen(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, first, "a failed lookup must not mark other ids")

	_, err = NewDurableSeenSet(local, nil)
	assert.ErrorIs(t, err, contractx.ErrConfiguration)
}

func TestRedisSeenSetMarksOnce(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL is not set")
	}
	t.Parallel()

	ctx := context.Background()
	seen, err := NewRedisSeenSet(ctx, RedisConfig{URL: redisURL, KeyPrefix: "coordinator:test:seen:", TTL: time.Minute})
	require.NoError(t, err)

	id := uuid.NewString()
	first, err := seen.MarkSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = seen.MarkSeen(ctx, id)
	require.NoError(t, err)
	assert.False(t, first)

	client := seen.client.(*redis.Client)
	ttl, err := client.TTL(ctx, "coordinator:test:seen:"+id).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	require.NoError(t, client.Del(ctx, "coordinator:test:seen:"+id).Err())
}
