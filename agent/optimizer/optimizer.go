package optimizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	memoryx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/memory"
	performancex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/performance"
	routerx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/router"
)

const (
	reasonCancelled  = "cancelled before publish"
	reasonSuperseded = "parameters replaced during run"
)

type Config struct {
	Interval        time.Duration `split_words:"true" default:"24h"`
	MinObservations uint64        `split_words:"true" default:"10"`
	TotalWeight     float64       `split_words:"true" default:"1.0"`
	WeightFloor     float64       `split_words:"true" default:"0.05"`
	ThresholdStep   float64       `split_words:"true" default:"0.05"`
	LowConfidence   float64       `split_words:"true" default:"0.6"`
	HighSuccessRate float64       `split_words:"true" default:"0.8"`
	MinThreshold    float64       `split_words:"true" default:"0.1"`
	MaxThreshold    float64       `split_words:"true" default:"0.9"`
}

func DefaultConfig() Config {
	return Config{
		Interval:        24 * time.Hour,
		MinObservations: 10,
		TotalWeight:     1.0,
		WeightFloor:     0.05,
		ThresholdStep:   0.05,
		LowConfidence:   0.6,
		HighSuccessRate: 0.8,
		MinThreshold:    0.1,
		MaxThreshold:    0.9,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("%w: optimization interval must be > 0", contractx.ErrConfiguration)
	case c.TotalWeight <= 0:
		return fmt.Errorf("%w: total weight must be > 0", contractx.ErrConfiguration)
	case c.WeightFloor < 0 || c.WeightFloor > 1:
		return fmt.Errorf("%w: weight floor must be in [0,1]", contractx.ErrConfiguration)
	case c.ThresholdStep < 0 || c.ThresholdStep > 1:
		return fmt.Errorf("%w: threshold step must be in [0,1]", contractx.ErrConfiguration)
	case c.MinThreshold < 0 || c.MaxThreshold > 1 || c.MinThreshold > c.MaxThreshold:
		return fmt.Errorf("%w: threshold bounds [%v,%v] are invalid", contractx.ErrConfiguration, c.MinThreshold, c.MaxThreshold)
	}
	return nil
}

// AuditSink persists finished runs.
type AuditSink interface {
	SaveRun(ctx context.Context, run contractx.OptimizationRun) error
}

// Notifier is told about every finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, run contractx.OptimizationRun) error
}

type Option func(*Optimizer)

func WithAuditSink(sink AuditSink) Option {
	return func(o *Optimizer) {
		o.audit = sink
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *Optimizer) {
		o.notifier = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// Optimizer recomputes router parameters from the tracker and memory and
// publishes them with a compare-and-swap. At most one run is active.
type Optimizer struct {
	cfg      Config
	router   *routerx.Router
	tracker  *performancex.Tracker
	memory   *memoryx.Memory
	audit    AuditSink
	notifier Notifier
	now      func() time.Time

	running atomic.Bool

	mu    sync.Mutex
	state contractx.OptimizationState
	runs  []contractx.OptimizationRun
}

func New(cfg Config, router *routerx.Router, tracker *performancex.Tracker, memory *memoryx.Memory, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if router == nil || tracker == nil || memory == nil {
		return nil, fmt.Errorf("%w: optimizer needs a router, a tracker and a memory", contractx.ErrConfiguration)
	}
	o := &Optimizer{
		cfg:     cfg,
		router:  router,
		tracker: tracker,
		memory:  memory,
		now:     time.Now,
		state:   contractx.OptimizationIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

func (o *Optimizer) Config() Config {
	return o.cfg
}

// State is Running while a run is active, otherwise the outcome of the last run.
func (o *Optimizer) State() contractx.OptimizationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Runs returns the audit log, oldest first.
func (o *Optimizer) Runs() []contractx.OptimizationRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]contractx.OptimizationRun(nil), o.runs...)
}

// LastRun returns the most recent finished run.
func (o *Optimizer) LastRun() (contractx.OptimizationRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.runs) == 0 {
		return contractx.OptimizationRun{}, false
	}
	return o.runs[len(o.runs)-1], true
}

// Run performs one optimization pass. Insufficient data aborts the run
// without an error; cancellation before publish aborts it with ctx.Err().
func (o *Optimizer) Run(ctx context.Context, trigger contractx.TriggerReason) (contractx.OptimizationRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return contractx.OptimizationRun{}, contractx.ErrOptimizationInProgress
	}
	defer o.running.Store(false)

	o.setState(contractx.OptimizationRunning)

	run := contractx.OptimizationRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: o.now().UTC(),
	}
	prior := o.router.Parameters()
	run.Prior = prior

	perf := o.tracker.Snapshot()
	mem := o.memory.Snapshot()
	ids := o.router.Registry().IDs()
	run.Summary = o.summarize(ids, perf, mem)

	if len(run.Summary.UnderObserved) > 0 {
		reason := fmt.Sprintf("%s: units below %d observations: %s",
			contractx.ErrInsufficientData, o.cfg.MinObservations, joinIDs(run.Summary.UnderObserved))
		return o.finish(ctx, run, contractx.OptimizationAborted, reason), nil
	}

	next := o.propose(ids, prior, perf)
	next.Version = prior.Version + 1
	next.PublishedAt = o.now().UTC()

	if err := ctx.Err(); err != nil {
		return o.finish(ctx, run, contractx.OptimizationAborted, reasonCancelled), err
	}

	swapped, err := o.router.CompareAndSwap(prior, next)
	if err != nil {
		return o.finish(ctx, run, contractx.OptimizationAborted, err.Error()), err
	}
	if !swapped {
		return o.finish(ctx, run, contractx.OptimizationAborted, reasonSuperseded), nil
	}

	run.Next = next
	return o.finish(ctx, run, contractx.OptimizationCommitted, ""), nil
}

func (o *Optimizer) setState(s contractx.OptimizationState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Optimizer) finish(
	ctx context.Context,
	run contractx.OptimizationRun,
	state contractx.OptimizationState,
	reason string,
) contractx.OptimizationRun {
	run.State = state
	run.Reason = reason
	run.FinishedAt = o.now().UTC()

	o.mu.Lock()
	o.runs = append(o.runs, run)
	o.state = state
	o.mu.Unlock()

	event := log.Info()
	if state == contractx.OptimizationAborted {
		event = log.Warn()
	}
	event.
		Str("run_id", run.ID).
		Str("trigger", string(run.Trigger)).
		Str("state", string(state)).
		Str("reason", reason).
		Uint64("total_volume", run.Summary.TotalVolume).
		Msg("optimization run finished")

	// Runs are persisted even when the caller's context is already done.
	sideCtx := context.WithoutCancel(ctx)
	if o.audit != nil {
		if err := o.audit.SaveRun(sideCtx, run); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Msg("save optimization run")
		}
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyRun(sideCtx, run); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Msg("notify optimization run")
		}
	}
	return run
}

func (o *Optimizer) summarize(ids []contractx.UnitID, perf performancex.Snapshot, mem memoryx.Snapshot) contractx.OptimizationSummary {
	summary := contractx.OptimizationSummary{
		SuccessRates: make(map[contractx.UnitID]float64, len(ids)),
		Volumes:      make(map[contractx.UnitID]uint64, len(ids)),
		Customers:    len(mem.Customers),
	}
	for _, id := range ids {
		stats, ok := perf.Get(id)
		rate := o.tracker.SuccessRate(id)
		if ok {
			rate = stats.SuccessRate
		}
		summary.SuccessRates[id] = rate
		summary.Volumes[id] = stats.Volume
		summary.TotalVolume += stats.Volume
		if stats.Volume < o.cfg.MinObservations {
			summary.UnderObserved = append(summary.UnderObserved, id)
		}
	}

	var top uint64
	for category, n := range mem.CategoryFrequency {
		if n > top || (n == top && category < summary.TopCategory) {
			top = n
			summary.TopCategory = category
		}
	}

	for category, slope := range mem.CategoryTrends {
		if slope > 0 {
			summary.RisingCategories = append(summary.RisingCategories, category)
		}
	}
	sort.Slice(summary.RisingCategories, func(i, j int) bool {
		a, b := summary.RisingCategories[i], summary.RisingCategories[j]
		if mem.CategoryTrends[a] != mem.CategoryTrends[b] {
			return mem.CategoryTrends[a] > mem.CategoryTrends[b]
		}
		return a < b
	})
	return summary
}

// propose computes the next parameters without touching the published ones.
func (o *Optimizer) propose(ids []contractx.UnitID, prior *contractx.RouterParameters, perf performancex.Snapshot) *contractx.RouterParameters {
	next := prior.Clone()
	next.Weights = make(map[contractx.UnitID]float64, len(ids))

	raw := make(map[contractx.UnitID]float64, len(ids))
	var total float64
	for _, id := range ids {
		stats, ok := perf.Get(id)
		rate := o.tracker.SuccessRate(id)
		if ok {
			rate = stats.SuccessRate
		}
		w := rate
		if w < o.cfg.WeightFloor {
			w = o.cfg.WeightFloor
		}
		raw[id] = w
		total += w
	}
	for _, id := range ids {
		if total == 0 {
			next.Weights[id] = o.cfg.TotalWeight / float64(len(ids))
			continue
		}
		next.Weights[id] = raw[id] / total * o.cfg.TotalWeight
	}

	for _, id := range ids {
		stats, _ := perf.Get(id)
		threshold := prior.Threshold(id)
		switch {
		case stats.AverageConfidence() < o.cfg.LowConfidence:
			threshold += o.cfg.ThresholdStep
		case stats.SuccessRate >= o.cfg.HighSuccessRate:
			threshold -= o.cfg.ThresholdStep
		}
		next.Thresholds[id] = clamp(threshold, o.cfg.MinThreshold, o.cfg.MaxThreshold)
	}
	return next
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func joinIDs(ids []contractx.UnitID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

// IsInsufficientData reports whether an aborted run stopped for lack of observations.
func IsInsufficientData(run contractx.OptimizationRun) bool {
	return run.State == contractx.OptimizationAborted && strings.HasPrefix(run.Reason, contractx.ErrInsufficientData.Error())
}
