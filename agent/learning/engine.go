package learning

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	memoryx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/memory"
	performancex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/performance"
)

// SeenSet remembers which decisions already had an outcome applied.
// MarkSeen reports true only for the first call with a given id.
type SeenSet interface {
	MarkSeen(ctx context.Context, decisionID string) (bool, error)
}

// Engine is the single writer of the performance tracker and global memory.
type Engine struct {
	tracker *performancex.Tracker
	memory  *memoryx.Memory
	seen    SeenSet
}

func NewEngine(tracker *performancex.Tracker, memory *memoryx.Memory, seen SeenSet) (*Engine, error) {
	if tracker == nil || memory == nil {
		return nil, fmt.Errorf("%w: learning engine needs a tracker and a memory", contractx.ErrConfiguration)
	}
	if seen == nil {
		var err error
		seen, err = NewLRUSeenSet(DefaultSeenCapacity)
		if err != nil {
			return nil, err
		}
	}
	return &Engine{tracker: tracker, memory: memory, seen: seen}, nil
}

// Observe applies one outcome. A decision id that was already observed is
// ignored and reported as applied=false with a nil error.
func (e *Engine) Observe(ctx context.Context, rec contractx.DecisionRecord, outcome contractx.OutcomeSignal) (bool, error) {
	outcome, err := normalizeOutcome(rec, outcome)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	first, err := e.seen.MarkSeen(ctx, rec.ID)
	if err != nil {
		return false, fmt.Errorf("mark decision seen: %w", err)
	}
	if !first {
		log.Debug().Str("decision_id", rec.ID).Msg("duplicate outcome ignored")
		return false, nil
	}

	stats := e.tracker.Record(rec.UnitID, rec.Confidence, outcome)
	e.memory.Update(rec, outcome.Resolution, stats.SuccessRate)

	log.Debug().
		Str("decision_id", rec.ID).
		Str("unit", string(rec.UnitID)).
		Str("resolution", string(outcome.Resolution)).
		Float64("success_rate", stats.SuccessRate).
		Uint64("volume", stats.Volume).
		Msg("outcome applied")
	return true, nil
}

func normalizeOutcome(rec contractx.DecisionRecord, outcome contractx.OutcomeSignal) (contractx.OutcomeSignal, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return outcome, fmt.Errorf("%w: decision id is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(string(rec.UnitID)) == "" {
		return outcome, fmt.Errorf("%w: decision=%s has no unit", contractx.ErrValidation, rec.ID)
	}
	if outcome.DecisionID == "" {
		outcome.DecisionID = rec.ID
	} else if outcome.DecisionID != rec.ID {
		return outcome, fmt.Errorf("%w: outcome for decision=%s applied to decision=%s", contractx.ErrValidation, outcome.DecisionID, rec.ID)
	}
	if outcome.Resolution == "" {
		outcome.Resolution = contractx.ResolutionUnknown
	}
	if !outcome.Resolution.Valid() {
		return outcome, fmt.Errorf("%w: unknown resolution %q", contractx.ErrValidation, outcome.Resolution)
	}
	if f := outcome.Feedback; f != nil && (math.IsNaN(*f) || *f < 0 || *f > 1) {
		return outcome, fmt.Errorf("%w: feedback=%v outside [0,1]", contractx.ErrValidation, *f)
	}
	return outcome, nil
}
