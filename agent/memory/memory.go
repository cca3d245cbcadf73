package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

const (
	DefaultHistoryCapacity = 20
	DefaultTrendBuckets    = 24
	DefaultTrendBucket     = time.Hour

	uncategorized  = "uncategorized"
	trendSmoothing = 0.2
)

type Config struct {
	HistoryCapacity int           `split_words:"true" default:"20"`
	TrendBuckets    int           `split_words:"true" default:"24"`
	TrendBucket     time.Duration `split_words:"true" default:"1h"`
}

func (c Config) Validate() error {
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("%w: history capacity must be > 0", contractx.ErrConfiguration)
	}
	if c.TrendBuckets < 2 {
		return fmt.Errorf("%w: trend buckets must be >= 2", contractx.ErrConfiguration)
	}
	if c.TrendBucket <= 0 {
		return fmt.Errorf("%w: trend bucket width must be > 0", contractx.ErrConfiguration)
	}
	return nil
}

// CategoryTag keys the joint frequency counter.
type CategoryTag struct {
	Category string `json:"category"`
	Tag      string `json:"tag"`
}

// Memory is the cross-customer store owned by the coordinator. Only the
// learning engine writes to it; everything else reads copies.
type Memory struct {
	capacity    int
	buckets     int
	bucketWidth time.Duration
	now         func() time.Time

	customers *xsync.MapOf[string, *customerEntry]

	mu          sync.Mutex
	categories  map[string]uint64
	tags        map[string]uint64
	categoryTag map[CategoryTag]uint64
	series      map[string]map[int64]uint64 // category -> bucket index -> count
	resets      []contractx.ResetRecord
}

type customerEntry struct {
	mu      sync.Mutex
	profile contractx.CustomerProfile
}

type Option func(*Memory)

func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func New(cfg Config, opts ...Option) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Memory{
		capacity:    cfg.HistoryCapacity,
		buckets:     cfg.TrendBuckets,
		bucketWidth: cfg.TrendBucket,
		now:         time.Now,
		customers:   xsync.NewMapOf[string, *customerEntry](),
		categories:  make(map[string]uint64, 16),
		tags:        make(map[string]uint64, 32),
		categoryTag: make(map[CategoryTag]uint64, 32),
		series:      make(map[string]map[int64]uint64, 16),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Update folds one decided conversation into memory. corroboration is the
// deciding unit's current success rate and only matters for unknown outcomes.
func (m *Memory) Update(rec contractx.DecisionRecord, resolution contractx.Resolution, corroboration float64) contractx.CustomerProfile {
	category := normalizeCategory(rec.Category)
	tags := normalizeTags(rec.Tags)
	at := rec.DecidedAt
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC()

	var profile contractx.CustomerProfile
	if customerID := strings.TrimSpace(rec.CustomerID); customerID != "" {
		entry, _ := m.customers.LoadOrCompute(customerID, func() *customerEntry {
			return &customerEntry{profile: contractx.CustomerProfile{CustomerID: customerID}}
		})
		profile = m.updateCustomer(entry, contractx.HistoryItem{Category: category, Tags: tags, At: at}, resolution, corroboration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.categories[category]++
	for _, tag := range tags {
		m.tags[tag]++
		m.categoryTag[CategoryTag{Category: category, Tag: tag}]++
	}

	idx := m.bucketIndex(at)
	series, ok := m.series[category]
	if !ok {
		series = make(map[int64]uint64, m.buckets)
		m.series[category] = series
	}
	series[idx]++
	m.pruneLocked(m.bucketIndex(m.now().UTC()))

	return profile
}

func (m *Memory) updateCustomer(entry *customerEntry, item contractx.HistoryItem, resolution contractx.Resolution, corroboration float64) contractx.CustomerProfile {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := cloneProfile(entry.profile)
	next.History = append(next.History, item)
	if over := len(next.History) - m.capacity; over > 0 {
		next.History = append([]contractx.HistoryItem(nil), next.History[over:]...)
	}
	next.Interactions++
	next.Trend = (1-trendSmoothing)*next.Trend + trendSmoothing*trendSignal(resolution, corroboration)
	next.UpdatedAt = item.At

	entry.profile = next
	return cloneProfile(next)
}

// Profile returns a copy of the customer's fragment; ok is false for unknown customers.
func (m *Memory) Profile(customerID string) (contractx.CustomerProfile, bool) {
	entry, ok := m.customers.Load(strings.TrimSpace(customerID))
	if !ok {
		return contractx.CustomerProfile{CustomerID: customerID}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneProfile(entry.profile), true
}

// Reset is the only path that lowers counters. Every call is audited.
func (m *Memory) Reset(scope contractx.ResetScope) (contractx.ResetRecord, error) {
	if err := scope.Validate(); err != nil {
		return contractx.ResetRecord{}, err
	}

	rec := contractx.ResetRecord{
		ID:    uuid.NewString(),
		Scope: scope,
		At:    m.now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch scope.Kind {
	case contractx.ResetAll:
		rec.CustomersRemoved = m.customers.Size()
		m.customers.Clear()
		rec.CategoryCountsLost = sum(m.categories)
		rec.TagCountsLost = sum(m.tags)
		m.categories = make(map[string]uint64, 16)
		m.tags = make(map[string]uint64, 32)
		m.categoryTag = make(map[CategoryTag]uint64, 32)
		m.series = make(map[string]map[int64]uint64, 16)
	case contractx.ResetCustomer:
		if _, ok := m.customers.LoadAndDelete(strings.TrimSpace(scope.Key)); ok {
			rec.CustomersRemoved = 1
		}
	case contractx.ResetCategory:
		category := normalizeCategory(scope.Key)
		rec.CategoryCountsLost = m.categories[category]
		delete(m.categories, category)
		delete(m.series, category)
		for k := range m.categoryTag {
			if k.Category == category {
				delete(m.categoryTag, k)
			}
		}
	case contractx.ResetTag:
		tag := strings.ToLower(strings.TrimSpace(scope.Key))
		rec.TagCountsLost = m.tags[tag]
		delete(m.tags, tag)
		for k := range m.categoryTag {
			if k.Tag == tag {
				delete(m.categoryTag, k)
			}
		}
	}

	m.resets = append(m.resets, rec)
	return rec, nil
}

// Snapshot is a read-only copy of the aggregate state.
type Snapshot struct {
	Customers            map[string]contractx.CustomerProfile `json:"customers"`
	CategoryFrequency    map[string]uint64                    `json:"category_frequency"`
	TagFrequency         map[string]uint64                    `json:"tag_frequency"`
	CategoryTagFrequency map[CategoryTag]uint64               `json:"-"`
	CategoryTrends       map[string]float64                   `json:"category_trends"`
	Resets               []contractx.ResetRecord              `json:"resets,omitempty"`
	TakenAt              time.Time                            `json:"taken_at"`
}

func (m *Memory) Snapshot() Snapshot {
	customers := make(map[string]contractx.CustomerProfile, m.customers.Size())
	m.customers.Range(func(id string, entry *customerEntry) bool {
		entry.mu.Lock()
		customers[id] = cloneProfile(entry.profile)
		entry.mu.Unlock()
		return true
	})

	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Customers:            customers,
		CategoryFrequency:    make(map[string]uint64, len(m.categories)),
		TagFrequency:         make(map[string]uint64, len(m.tags)),
		CategoryTagFrequency: make(map[CategoryTag]uint64, len(m.categoryTag)),
		CategoryTrends:       make(map[string]float64, len(m.series)),
		Resets:               append([]contractx.ResetRecord(nil), m.resets...),
		TakenAt:              now,
	}
	for k, v := range m.categories {
		snap.CategoryFrequency[k] = v
	}
	for k, v := range m.tags {
		snap.TagFrequency[k] = v
	}
	for k, v := range m.categoryTag {
		snap.CategoryTagFrequency[k] = v
	}
	current := m.bucketIndex(now)
	for category, series := range m.series {
		snap.CategoryTrends[category] = m.slope(series, current)
	}
	return snap
}

// RestoreFrequencies replaces the category and tag counters with previously
// saved ones. Customer profiles and trend buckets are left as they are.
func (m *Memory) RestoreFrequencies(categories, tags map[string]uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories = make(map[string]uint64, len(categories))
	for k, v := range categories {
		if v == 0 {
			continue
		}
		m.categories[normalizeCategory(k)] += v
	}
	m.tags = make(map[string]uint64, len(tags))
	for k, v := range tags {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || v == 0 {
			continue
		}
		m.tags[k] += v
	}
}

// Trend returns the slope of a category's per-bucket frequency over the window.
func (m *Memory) Trend(category string) float64 {
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	series, ok := m.series[normalizeCategory(category)]
	if !ok {
		return 0
	}
	return m.slope(series, m.bucketIndex(now))
}

func (m *Memory) Resets() []contractx.ResetRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]contractx.ResetRecord(nil), m.resets...)
}

func (m *Memory) bucketIndex(t time.Time) int64 {
	return t.UnixNano() / int64(m.bucketWidth)
}

func (m *Memory) pruneLocked(current int64) {
	oldest := current - int64(m.buckets) + 1
	for category, series := range m.series {
		for idx := range series {
			if idx < oldest {
				delete(series, idx)
			}
		}
		if len(series) == 0 {
			delete(m.series, category)
		}
	}
}

// slope fits counts over the last m.buckets buckets ending at current.
func (m *Memory) slope(series map[int64]uint64, current int64) float64 {
	n := float64(m.buckets)
	oldest := current - int64(m.buckets) + 1

	var sumX, sumY, sumXY, sumXX float64
	for i := 0; i < m.buckets; i++ {
		x := float64(i)
		y := float64(series[oldest+int64(i)])
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

func trendSignal(resolution contractx.Resolution, corroboration float64) float64 {
	switch resolution {
	case contractx.ResolutionResolved:
		return 1
	case contractx.ResolutionEscalated:
		return -1
	default:
		return (2*corroboration - 1) * 0.5
	}
}

func normalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return uncategorized
	}
	return category
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func cloneProfile(p contractx.CustomerProfile) contractx.CustomerProfile {
	out := p
	if p.History != nil {
		out.History = make([]contractx.HistoryItem, len(p.History))
		for i, h := range p.History {
			h.Tags = append([]string(nil), h.Tags...)
			out.History[i] = h
		}
	}
	return out
}

func sum(m map[string]uint64) uint64 {
	var total uint64
	for _, v := range m {
		total += v
	}
	return total
}
