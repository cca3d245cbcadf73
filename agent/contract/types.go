package contract

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type UnitID string

const (
	UnitSales       UnitID = "sales"
	UnitSupport     UnitID = "support"
	UnitComplaints  UnitID = "complaints"
	UnitInquiry     UnitID = "inquiry"
	UnitCoordinator UnitID = "coordinator"
)

const (
	SenderCustomer = "customer"
	SenderBusiness = "business"
)

type Message struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Conversation is one decision cycle's input. A new turn is a new value.
type Conversation struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Messages   []Message `json:"messages"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags,omitempty"`
}

// LastCustomerText returns the most recent non-empty customer message.
// Messages without a sender are treated as customer messages.
func (c Conversation) LastCustomerText() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Sender != "" && m.Sender != SenderCustomer {
			continue
		}
		if text := strings.TrimSpace(m.Text); text != "" {
			return text
		}
	}
	return ""
}

func (c Conversation) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: conversation id is empty", ErrValidation)
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence=%v outside [0,1]", ErrValidation, c.Confidence)
	}
	return nil
}

type Decision struct {
	Response   string  `json:"response"`
	Confidence float64 `json:"confidence"`
	NextAction string  `json:"next_action"`
}

type DecisionRecord struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	CustomerID        string    `json:"customer_id"`
	UnitID            UnitID    `json:"unit_id"`
	Response          string    `json:"response"`
	Confidence        float64   `json:"confidence"`
	NextAction        string    `json:"next_action"`
	Fallback          bool      `json:"fallback"`
	Category          string    `json:"category"`
	Tags              []string  `json:"tags,omitempty"`
	ParametersVersion uint64    `json:"parameters_version"`
	Attempts          []UnitID  `json:"attempts,omitempty"`
	DecidedAt         time.Time `json:"decided_at"`
}

type Resolution string

const (
	ResolutionResolved  Resolution = "resolved"
	ResolutionEscalated Resolution = "escalated"
	ResolutionUnknown   Resolution = "unknown"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionResolved, ResolutionEscalated, ResolutionUnknown:
		return true
	default:
		return false
	}
}

type OutcomeSignal struct {
	DecisionID string     `json:"decision_id"`
	Resolution Resolution `json:"resolution"`
	Feedback   *float64   `json:"feedback,omitempty"`
}

// Observed maps a resolution to the value fed into the success rate.
// ok is false for unknown outcomes.
func (o OutcomeSignal) Observed() (value float64, ok bool) {
	switch o.Resolution {
	case ResolutionResolved:
		return 1, true
	case ResolutionEscalated:
		return 0, true
	default:
		return 0, false
	}
}

type PerformanceStats struct {
	UnitID        UnitID    `json:"unit_id"`
	SuccessRate   float64   `json:"success_rate"`
	Volume        uint64    `json:"volume"`
	ConfidenceSum float64   `json:"confidence_sum"`
	Resolved      uint64    `json:"resolved"`
	Escalated     uint64    `json:"escalated"`
	Unknown       uint64    `json:"unknown"`
	FeedbackSum   float64   `json:"feedback_sum"`
	FeedbackCount uint64    `json:"feedback_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s PerformanceStats) AverageConfidence() float64 {
	if s.Volume == 0 {
		return 0
	}
	return s.ConfidenceSum / float64(s.Volume)
}

func (s PerformanceStats) AverageFeedback() float64 {
	if s.FeedbackCount == 0 {
		return 0
	}
	return s.FeedbackSum / float64(s.FeedbackCount)
}

type HistoryItem struct {
	Category string    `json:"category"`
	Tags     []string  `json:"tags,omitempty"`
	At       time.Time `json:"at"`
}

// CustomerProfile is a read-only copy of one customer's memory fragment.
type CustomerProfile struct {
	CustomerID   string        `json:"customer_id"`
	History      []HistoryItem `json:"history,omitempty"` // oldest first
	Trend        float64       `json:"trend"`
	Interactions uint64        `json:"interactions"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (p CustomerProfile) RecentCategories() []string {
	out := make([]string, 0, len(p.History))
	for _, h := range p.History {
		out = append(out, h.Category)
	}
	return out
}

// RouterParameters is published once and never modified afterwards.
type RouterParameters struct {
	Version     uint64             `json:"version"`
	Weights     map[UnitID]float64 `json:"weights"`
	Thresholds  map[UnitID]float64 `json:"thresholds"`
	Fallback    UnitID             `json:"fallback"`
	PublishedAt time.Time          `json:"published_at"`
}

func (p *RouterParameters) Weight(id UnitID) float64 {
	if p == nil {
		return 0
	}
	return p.Weights[id]
}

func (p *RouterParameters) Threshold(id UnitID) float64 {
	if p == nil {
		return 0
	}
	return p.Thresholds[id]
}

// Clone returns a deep copy that is safe to modify before publishing.
func (p *RouterParameters) Clone() *RouterParameters {
	if p == nil {
		return nil
	}
	out := &RouterParameters{
		Version:     p.Version,
		Weights:     make(map[UnitID]float64, len(p.Weights)),
		Thresholds:  make(map[UnitID]float64, len(p.Thresholds)),
		Fallback:    p.Fallback,
		PublishedAt: p.PublishedAt,
	}
	for k, v := range p.Weights {
		out.Weights[k] = v
	}
	for k, v := range p.Thresholds {
		out.Thresholds[k] = v
	}
	return out
}

func (p *RouterParameters) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: parameters are nil", ErrInvalidParameters)
	}
	if strings.TrimSpace(string(p.Fallback)) == "" {
		return fmt.Errorf("%w: fallback unit is empty", ErrInvalidParameters)
	}
	for id, w := range p.Weights {
		if w < 0 {
			return fmt.Errorf("%w: weight for unit=%s is negative", ErrInvalidParameters, id)
		}
	}
	for id, t := range p.Thresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("%w: threshold for unit=%s outside [0,1]", ErrInvalidParameters, id)
		}
	}
	return nil
}

type TriggerReason string

const (
	TriggerScheduled TriggerReason = "scheduled"
	TriggerManual    TriggerReason = "manual"
)

type OptimizationState string

const (
	OptimizationIdle      OptimizationState = "idle"
	OptimizationRunning   OptimizationState = "running"
	OptimizationCommitted OptimizationState = "committed"
	OptimizationAborted   OptimizationState = "aborted"
)

type OptimizationSummary struct {
	TotalVolume      uint64             `json:"total_volume"`
	SuccessRates     map[UnitID]float64 `json:"success_rates,omitempty"`
	Volumes          map[UnitID]uint64  `json:"volumes,omitempty"`
	UnderObserved    []UnitID           `json:"under_observed,omitempty"`
	TopCategory      string             `json:"top_category,omitempty"`
	RisingCategories []string           `json:"rising_categories,omitempty"`
	Customers        int                `json:"customers"`
}

// OptimizationRun is an audit entry; it is never mutated after creation.
type OptimizationRun struct {
	ID         string              `json:"id"`
	Trigger    TriggerReason       `json:"trigger"`
	State      OptimizationState   `json:"state"`
	Reason     string              `json:"reason,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Prior      *RouterParameters   `json:"prior"`
	Next       *RouterParameters   `json:"next,omitempty"`
	Summary    OptimizationSummary `json:"summary"`
}

func (r OptimizationRun) Committed() bool {
	return r.State == OptimizationCommitted
}

type ResetKind string

const (
	ResetAll      ResetKind = "all"
	ResetCustomer ResetKind = "customer"
	ResetCategory ResetKind = "category"
	ResetTag      ResetKind = "tag"
)

type ResetScope struct {
	Kind ResetKind `json:"kind"`
	Key  string    `json:"key,omitempty"`
}

// ParseResetScope accepts "all" or "<kind>:<key>".
func ParseResetScope(raw string) (ResetScope, error) {
	raw = strings.TrimSpace(raw)
	if raw == string(ResetAll) {
		return ResetScope{Kind: ResetAll}, nil
	}
	kind, key, ok := strings.Cut(raw, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return ResetScope{}, fmt.Errorf("%w: invalid reset scope %q", ErrValidation, raw)
	}
	scope := ResetScope{Kind: ResetKind(strings.TrimSpace(kind)), Key: key}
	if err := scope.Validate(); err != nil {
		return ResetScope{}, err
	}
	return scope, nil
}

func (s ResetScope) Validate() error {
	switch s.Kind {
	case ResetAll:
		return nil
	case ResetCustomer, ResetCategory, ResetTag:
		if strings.TrimSpace(s.Key) == "" {
			return fmt.Errorf("%w: reset scope %s requires a key", ErrValidation, s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown reset kind %q", ErrValidation, s.Kind)
	}
}

func (s ResetScope) String() string {
	if s.Kind == ResetAll {
		return string(ResetAll)
	}
	return string(s.Kind) + ":" + s.Key
}

type ResetRecord struct {
	ID                 string     `json:"id"`
	Scope              ResetScope `json:"scope"`
	At                 time.Time  `json:"at"`
	CustomersRemoved   int        `json:"customers_removed"`
	CategoryCountsLost uint64     `json:"category_counts_lost"`
	TagCountsLost      uint64     `json:"tag_counts_lost"`
}
