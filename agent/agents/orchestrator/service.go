package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	insightx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/insight"
	learningx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/learning"
	memoryx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/memory"
	metricsx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/metrics"
	nodex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/nodes"
	optimizerx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/optimizer"
	performancex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/performance"
	routerx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/router"
	statex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/state"
	unitsx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/units"
)

var ErrDecisionNotFound = statex.ErrDecisionNotFound

type Option func(*Coordinator)

func WithUnitTable(t UnitTable) Option {
	return func(c *Coordinator) {
		c.table = &t
	}
}

// WithGenerator lets every unit phrase its replies through g.
func WithGenerator(g contractx.Generator) Option {
	return func(c *Coordinator) {
		c.generator = g
	}
}

// WithClassifier fills missing categories; when it also tags, missing tags too.
// A classifier that can analyze is asked once for both.
func WithClassifier(cl contractx.Classifier) Option {
	return func(c *Coordinator) {
		c.classifier = cl
		if t, ok := cl.(contractx.Tagger); ok && c.tagger == nil {
			c.tagger = t
		}
		if a, ok := cl.(contractx.Analyzer); ok {
			c.analyzer = a
		}
	}
}

func WithTagger(t contractx.Tagger) Option {
	return func(c *Coordinator) {
		c.tagger = t
	}
}

func WithAuditStore(s statex.AuditStore) Option {
	return func(c *Coordinator) {
		c.audit = s
	}
}

func WithSnapshotStore(s statex.SnapshotStore) Option {
	return func(c *Coordinator) {
		c.snapshots = s
	}
}

func WithSeenSet(s learningx.SeenSet) Option {
	return func(c *Coordinator) {
		c.seen = s
	}
}

func WithMetrics(m *metricsx.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithNotifier(n optimizerx.Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator owns one registry, router, tracker, memory and optimizer and
// exposes the operations callers use.
type Coordinator struct {
	id   string
	cfg  Config
	now  func() time.Time
	topN int

	table      *UnitTable
	generator  contractx.Generator
	classifier contractx.Classifier
	tagger     contractx.Tagger
	analyzer   contractx.Analyzer
	audit      statex.AuditStore
	snapshots  statex.SnapshotStore
	seen       learningx.SeenSet
	metrics    *metricsx.Metrics
	notifier   optimizerx.Notifier

	registry  *unitsx.Registry
	router    *routerx.Router
	tracker   *performancex.Tracker
	memory    *memoryx.Memory
	learning  *learningx.Engine
	optimizer *optimizerx.Optimizer
	scheduler *optimizerx.Scheduler
	recent    *lru.Cache[string, contractx.DecisionRecord]

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	startedAt time.Time
}

func New(cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		id:   cfg.ID,
		cfg:  cfg,
		now:  time.Now,
		topN: cfg.InsightsTopN,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.startedAt = c.now()

	if c.table == nil {
		t, err := LoadUnitTable(cfg.UnitsFile)
		if err != nil {
			return nil, err
		}
		c.table = &t
	}

	var unitOpts []unitsx.Option
	if c.generator != nil {
		unitOpts = append(unitOpts, unitsx.WithGenerator(c.generator))
	}
	registry, params, err := c.table.Build(unitOpts...)
	if err != nil {
		return nil, err
	}
	params.PublishedAt = c.now().UTC()
	c.registry = registry

	if c.tracker, err = performancex.NewTracker(cfg.Tracker, performancex.WithClock(c.now)); err != nil {
		return nil, err
	}
	c.tracker.Register(registry.IDs()...)

	if c.memory, err = memoryx.New(cfg.Memory, memoryx.WithClock(c.now)); err != nil {
		return nil, err
	}

	if c.router, err = routerx.New(registry, params, routerx.WithVolumes(c.tracker), routerx.WithClock(c.now)); err != nil {
		return nil, err
	}

	if c.seen == nil {
		if c.seen, err = learningx.NewLRUSeenSet(cfg.SeenCapacity); err != nil {
			return nil, err
		}
	}
	if c.audit != nil {
		if c.seen, err = learningx.NewDurableSeenSet(c.seen, c.audit); err != nil {
			return nil, err
		}
	}
	if c.learning, err = learningx.NewEngine(c.tracker, c.memory, c.seen); err != nil {
		return nil, err
	}

	optOpts := []optimizerx.Option{
		optimizerx.WithClock(c.now),
		optimizerx.WithNotifier(runObserver{metrics: c.metrics, next: c.notifier}),
	}
	if c.audit != nil {
		optOpts = append(optOpts, optimizerx.WithAuditSink(c.audit))
	}
	if c.optimizer, err = optimizerx.New(cfg.Optimizer, c.router, c.tracker, c.memory, optOpts...); err != nil {
		return nil, err
	}
	if c.scheduler, err = optimizerx.NewScheduler(c.optimizer, cfg.Optimizer.Interval, c.startedAt); err != nil {
		return nil, err
	}

	if c.recent, err = lru.New[string, contractx.DecisionRecord](cfg.RecentDecisions); err != nil {
		return nil, fmt.Errorf("%w: recent decisions: %v", contractx.ErrConfiguration, err)
	}

	graphRunner, err := c.compileRouteGraph(context.Background())
	if err != nil {
		return nil, err
	}
	c.graphRunner = graphRunner

	c.metrics.ObserveParameters(params)
	log.Info().
		Str("coordinator_id", c.id).
		Int("units", registry.Len()).
		Str("fallback", string(params.Fallback)).
		Dur("optimization_interval", cfg.Optimizer.Interval).
		Msg("coordinator ready")
	return c, nil
}

func (c *Coordinator) ID() string {
	return c.id
}

// Route classifies when needed, picks a unit and returns its decision.
func (c *Coordinator) Route(ctx context.Context, conv contractx.Conversation) (contractx.DecisionRecord, error) {
	out, err := c.graphRunner.Invoke(ctx, nodex.GraphInput{Conversation: conv})
	if err != nil {
		if errors.Is(err, contractx.ErrUnhandled) {
			c.metrics.ObserveUnhandled()
			log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("conversation unhandled")
		}
		return contractx.DecisionRecord{}, err
	}
	return out.Record, nil
}

// SaveDecision keeps the record for later outcome lookups and forwards it to
// the audit store.
func (c *Coordinator) SaveDecision(ctx context.Context, rec contractx.DecisionRecord) error {
	c.recent.Add(rec.ID, rec)
	if c.audit == nil {
		return nil
	}
	return c.audit.SaveDecision(ctx, rec)
}

// Decision finds a decision made by this coordinator or recorded in the audit log.
func (c *Coordinator) Decision(ctx context.Context, decisionID string) (contractx.DecisionRecord, error) {
	if rec, ok := c.recent.Get(decisionID); ok {
		return rec, nil
	}
	if c.audit == nil {
		return contractx.DecisionRecord{}, ErrDecisionNotFound
	}
	return c.audit.Decision(ctx, decisionID)
}

// Observe applies an outcome to the decision it names. Repeated outcomes for
// the same decision report applied=false.
func (c *Coordinator) Observe(ctx context.Context, outcome contractx.OutcomeSignal) (bool, error) {
	rec, err := c.Decision(ctx, outcome.DecisionID)
	if err != nil {
		if errors.Is(err, ErrDecisionNotFound) {
			return false, fmt.Errorf("%w: decision %q is unknown", contractx.ErrValidation, outcome.DecisionID)
		}
		return false, err
	}
	return c.ObserveDecision(ctx, rec, outcome)
}

// ObserveDecision applies an outcome for a record the caller already holds.
func (c *Coordinator) ObserveDecision(ctx context.Context, rec contractx.DecisionRecord, outcome contractx.OutcomeSignal) (bool, error) {
	applied, err := c.learning.Observe(ctx, rec, outcome)
	if err != nil {
		return false, err
	}

	resolution := outcome.Resolution
	if resolution == "" {
		resolution = contractx.ResolutionUnknown
	}
	c.metrics.ObserveOutcome(rec.UnitID, resolution, applied, c.tracker.SuccessRate(rec.UnitID))

	if applied && c.audit != nil {
		entry := statex.OutcomeEntry{
			DecisionID: rec.ID,
			UnitID:     rec.UnitID,
			Resolution: resolution,
			Feedback:   outcome.Feedback,
			ObservedAt: c.now().UTC(),
		}
		if err := c.audit.SaveOutcome(context.WithoutCancel(ctx), entry); err != nil {
			log.Error().Err(err).Str("decision_id", rec.ID).Msg("save outcome failed")
		}
	}
	return applied, nil
}

// Status mirrors the operational view of the coordinator.
type Status struct {
	CoordinatorID     string                      `json:"coordinator_id"`
	StartedAt         time.Time                   `json:"started_at"`
	Uptime            time.Duration               `json:"uptime"`
	Units             []contractx.UnitID          `json:"units"`
	ParametersVersion uint64                      `json:"parameters_version"`
	OptimizerState    contractx.OptimizationState `json:"optimizer_state"`
	OptimizationRuns  int                         `json:"optimization_runs"`
	LastOptimization  *time.Time                  `json:"last_optimization,omitempty"`
	NextOptimization  time.Time                   `json:"next_optimization"`
}

type Snapshot struct {
	Performance performancex.Snapshot       `json:"performance"`
	Memory      memoryx.Snapshot            `json:"memory"`
	Parameters  *contractx.RouterParameters `json:"parameters"`
	Status      Status                      `json:"status"`
}

func (c *Coordinator) Snapshot() Snapshot {
	params := c.router.Parameters()
	now := c.now()

	status := Status{
		CoordinatorID:     c.id,
		StartedAt:         c.startedAt,
		Uptime:            now.Sub(c.startedAt),
		Units:             c.registry.IDs(),
		ParametersVersion: params.Version,
		OptimizerState:    c.optimizer.State(),
		OptimizationRuns:  len(c.optimizer.Runs()),
		NextOptimization:  c.scheduler.NextRun(),
	}
	if last, ok := c.optimizer.LastRun(); ok {
		at := last.FinishedAt
		status.LastOptimization = &at
	}

	return Snapshot{
		Performance: c.tracker.Snapshot(),
		Memory:      c.memory.Snapshot(),
		Parameters:  params.Clone(),
		Status:      status,
	}
}

func (c *Coordinator) Parameters() *contractx.RouterParameters {
	return c.router.Parameters()
}

// RunOptimization starts a manual optimization run.
func (c *Coordinator) RunOptimization(ctx context.Context) (contractx.OptimizationRun, error) {
	return c.optimizer.Run(ctx, contractx.TriggerManual)
}

// RunIfDue runs the scheduled optimization when now has reached its due time.
func (c *Coordinator) RunIfDue(ctx context.Context, now time.Time) (contractx.OptimizationRun, bool, error) {
	return c.scheduler.RunIfDue(ctx, now)
}

func (c *Coordinator) Reset(ctx context.Context, scope contractx.ResetScope) (contractx.ResetRecord, error) {
	rec, err := c.memory.Reset(scope)
	if err != nil {
		return contractx.ResetRecord{}, err
	}
	c.metrics.ObserveReset(scope.Kind)
	if c.audit != nil {
		if err := c.audit.SaveReset(context.WithoutCancel(ctx), rec); err != nil {
			log.Error().Err(err).Str("scope", scope.String()).Msg("save memory reset failed")
		}
	}
	log.Info().
		Str("scope", scope.String()).
		Int("customers_removed", rec.CustomersRemoved).
		Uint64("category_counts_lost", rec.CategoryCountsLost).
		Uint64("tag_counts_lost", rec.TagCountsLost).
		Msg("memory reset")
	return rec, nil
}

func (c *Coordinator) Insights() insightx.Report {
	return insightx.Build(c.memory.Snapshot(), c.tracker.Snapshot(), c.topN)
}

// Start runs the optimization schedule until ctx is done or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.scheduler.Start(ctx)
}

func (c *Coordinator) Stop() {
	c.scheduler.Stop()
}

// Checkpoint captures the learned state and saves it when a snapshot store is set.
func (c *Coordinator) Checkpoint(ctx context.Context) (*statex.Checkpoint, error) {
	mem := c.memory.Snapshot()
	cp := &statex.Checkpoint{
		CoordinatorID:     c.id,
		Version:           1,
		Parameters:        c.router.Parameters().Clone(),
		Performance:       c.tracker.Snapshot().Units,
		CategoryFrequency: mem.CategoryFrequency,
		TagFrequency:      mem.TagFrequency,
		OptimizationRuns:  len(c.optimizer.Runs()),
		TakenAt:           c.now().UTC(),
	}
	if c.snapshots == nil {
		return cp, nil
	}
	if err := c.snapshots.Save(ctx, cp); err != nil {
		return nil, err
	}
	log.Info().Str("coordinator_id", c.id).Uint64("parameters_version", cp.Parameters.Version).Msg("checkpoint saved")
	return cp, nil
}

// Restore loads the last checkpoint and reinstates its routing parameters,
// unit statistics and category and tag counters. Customer profiles start empty.
func (c *Coordinator) Restore(ctx context.Context) (*statex.Checkpoint, error) {
	if c.snapshots == nil {
		return nil, fmt.Errorf("%w: no snapshot store configured", contractx.ErrConfiguration)
	}
	cp, err := c.snapshots.Load(ctx, c.id)
	if err != nil {
		return nil, err
	}
	if cp.Parameters != nil {
		if err := c.router.Publish(cp.Parameters.Clone()); err != nil {
			return nil, err
		}
		c.metrics.ObserveParameters(cp.Parameters)
	}
	c.tracker.Restore(cp.Performance)
	c.memory.RestoreFrequencies(cp.CategoryFrequency, cp.TagFrequency)
	log.Info().Str("coordinator_id", c.id).Time("taken_at", cp.TakenAt).Msg("checkpoint restored")
	return cp, nil
}

// runObserver feeds finished runs into metrics before the external notifier.
type runObserver struct {
	metrics *metricsx.Metrics
	next    optimizerx.Notifier
}

func (r runObserver) NotifyRun(ctx context.Context, run contractx.OptimizationRun) error {
	r.metrics.ObserveRun(run)
	if r.next == nil {
		return nil
	}
	return r.next.NotifyRun(ctx, run)
}
