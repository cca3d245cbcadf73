package performance

import (
	"fmt"
	"sort"
	"sync"
	"time"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

const (
	DefaultAlpha = 0.2
	DefaultPrior = 0.5
)

type Config struct {
	Alpha float64 `split_words:"true" default:"0.2"`
	Prior float64 `split_words:"true" default:"0.5"`
}

func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: smoothing alpha=%v must be in (0,1]", contractx.ErrConfiguration, c.Alpha)
	}
	if c.Prior < 0 || c.Prior > 1 {
		return fmt.Errorf("%w: prior success rate=%v must be in [0,1]", contractx.ErrConfiguration, c.Prior)
	}
	return nil
}

// Tracker keeps rolling statistics per decision unit. Updates for one unit
// are serialized by that unit's mutex; different units never contend.
type Tracker struct {
	alpha float64
	prior float64
	now   func() time.Time

	mu    sync.RWMutex
	units map[contractx.UnitID]*unitStats
}

type unitStats struct {
	mu    sync.Mutex
	stats contractx.PerformanceStats
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTracker(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		alpha: cfg.Alpha,
		prior: cfg.Prior,
		now:   time.Now,
		units: make(map[contractx.UnitID]*unitStats, 8),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

func (t *Tracker) Alpha() float64 {
	return t.alpha
}

// Register makes a unit visible in snapshots before it has any traffic.
func (t *Tracker) Register(ids ...contractx.UnitID) {
	for _, id := range ids {
		t.entry(id)
	}
}

// Record applies one observation. Volume and the confidence accumulator
// always move; the success rate only moves for resolved/escalated outcomes.
func (t *Tracker) Record(id contractx.UnitID, confidence float64, outcome contractx.OutcomeSignal) contractx.PerformanceStats {
	e := t.entry(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.stats
	next.Volume++
	next.ConfidenceSum += clamp01(confidence)

	if observed, ok := outcome.Observed(); ok {
		next.SuccessRate = clamp01(t.alpha*observed + (1-t.alpha)*next.SuccessRate)
		if observed == 1 {
			next.Resolved++
		} else {
			next.Escalated++
		}
	} else {
		next.Unknown++
	}

	if outcome.Feedback != nil {
		next.FeedbackSum += *outcome.Feedback
		next.FeedbackCount++
	}
	next.UpdatedAt = t.now().UTC()

	e.stats = next
	return next
}

func (t *Tracker) Stats(id contractx.UnitID) (contractx.PerformanceStats, bool) {
	t.mu.RLock()
	e, ok := t.units[id]
	t.mu.RUnlock()
	if !ok {
		return contractx.PerformanceStats{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats, true
}

func (t *Tracker) SuccessRate(id contractx.UnitID) float64 {
	if s, ok := t.Stats(id); ok {
		return s.SuccessRate
	}
	return t.prior
}

func (t *Tracker) Volume(id contractx.UnitID) uint64 {
	s, _ := t.Stats(id)
	return s.Volume
}

// Restore replaces the statistics of every unit named in stats, for example
// from a checkpoint. Units not named keep their current values.
func (t *Tracker) Restore(stats []contractx.PerformanceStats) {
	for _, s := range stats {
		if s.UnitID == "" {
			continue
		}
		e := t.entry(s.UnitID)
		s.SuccessRate = clamp01(s.SuccessRate)
		e.mu.Lock()
		e.stats = s
		e.mu.Unlock()
	}
}

// Snapshot is a read-only copy of every unit's statistics.
type Snapshot struct {
	Units   []contractx.PerformanceStats `json:"units"`
	TakenAt time.Time                    `json:"taken_at"`
}

func (s Snapshot) Get(id contractx.UnitID) (contractx.PerformanceStats, bool) {
	for _, u := range s.Units {
		if u.UnitID == id {
			return u, true
		}
	}
	return contractx.PerformanceStats{}, false
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	entries := make([]*unitStats, 0, len(t.units))
	for _, e := range t.units {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	units := make([]contractx.PerformanceStats, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		units = append(units, e.stats)
		e.mu.Unlock()
	}
	sort.Slice(units, func(i, j int) bool { return units[i].UnitID < units[j].UnitID })

	return Snapshot{Units: units, TakenAt: t.now().UTC()}
}

func (t *Tracker) entry(id contractx.UnitID) *unitStats {
	t.mu.RLock()
	e, ok := t.units[id]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.units[id]; ok {
		return e
	}
	e = &unitStats{stats: contractx.PerformanceStats{UnitID: id, SuccessRate: t.prior}}
	t.units[id] = e
	return e
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
