package state

import (
	"context"
	"sync"
	"time"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

// OutcomeEntry is one applied outcome signal.
type OutcomeEntry struct {
	DecisionID string               `json:"decision_id"`
	UnitID     contractx.UnitID     `json:"unit_id"`
	Resolution contractx.Resolution `json:"resolution"`
	Feedback   *float64             `json:"feedback,omitempty"`
	ObservedAt time.Time            `json:"observed_at"`
}

// AuditStore is the append-only log of decisions, outcomes, runs and resets.
type AuditStore interface {
	SaveDecision(ctx context.Context, rec contractx.DecisionRecord) error
	SaveOutcome(ctx context.Context, entry OutcomeEntry) error
	SaveRun(ctx context.Context, run contractx.OptimizationRun) error
	SaveReset(ctx context.Context, rec contractx.ResetRecord) error
	Decision(ctx context.Context, decisionID string) (contractx.DecisionRecord, error)
	// OutcomeApplied reports whether an outcome for decisionID was saved.
	OutcomeApplied(ctx context.Context, decisionID string) (bool, error)
}

// MemoryAuditStore keeps the audit log in process.
type MemoryAuditStore struct {
	mu        sync.RWMutex
	decisions map[string]contractx.DecisionRecord
	order     []string
	outcomes  []OutcomeEntry
	applied   map[string]struct{}
	runs      []contractx.OptimizationRun
	resets    []contractx.ResetRecord
}

var _ AuditStore = (*MemoryAuditStore)(nil)

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{
		decisions: make(map[string]contractx.DecisionRecord, 64),
		applied:   make(map[string]struct{}, 64),
	}
}

func (s *MemoryAuditStore) SaveDecision(_ context.Context, rec contractx.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[rec.ID]; ok {
		return nil
	}
	s.decisions[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return nil
}

// SaveOutcome keeps the first outcome per decision.
func (s *MemoryAuditStore) SaveOutcome(_ context.Context, entry OutcomeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applied[entry.DecisionID]; ok {
		return nil
	}
	s.applied[entry.DecisionID] = struct{}{}
	s.outcomes = append(s.outcomes, entry)
	return nil
}

func (s *MemoryAuditStore) OutcomeApplied(_ context.Context, decisionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.applied[decisionID]
	return ok, nil
}

func (s *MemoryAuditStore) SaveRun(_ context.Context, run contractx.OptimizationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemoryAuditStore) SaveReset(_ context.Context, rec contractx.ResetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, rec)
	return nil
}

func (s *MemoryAuditStore) Decision(_ context.Context, decisionID string) (contractx.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.decisions[decisionID]
	if !ok {
		return contractx.DecisionRecord{}, ErrDecisionNotFound
	}
	return rec, nil
}

func (s *MemoryAuditStore) Decisions() []contractx.DecisionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contractx.DecisionRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.decisions[id])
	}
	return out
}

func (s *MemoryAuditStore) Outcomes() []OutcomeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]OutcomeEntry(nil), s.outcomes...)
}

func (s *MemoryAuditStore) Runs() []contractx.OptimizationRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]contractx.OptimizationRun(nil), s.runs...)
}

func (s *MemoryAuditStore) Resets() []contractx.ResetRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]contractx.ResetRecord(nil), s.resets...)
}
