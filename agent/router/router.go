package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	unitsx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/units"
)

type Option func(*Router)

// WithVolumes sets the source used for the load-balancing tie break.
func WithVolumes(v contractx.VolumeSource) Option {
	return func(r *Router) {
		r.volumes = v
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(r *Router) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// Router picks one decision unit per conversation using the currently
// published RouterParameters snapshot.
type Router struct {
	registry *unitsx.Registry
	params   atomic.Pointer[contractx.RouterParameters]
	volumes  contractx.VolumeSource
	now      func() time.Time
	newID    func() string
}

func New(registry *unitsx.Registry, initial *contractx.RouterParameters, opts ...Option) (*Router, error) {
	if registry.Len() == 0 {
		return nil, contractx.ErrNoUnitsRegistered
	}
	r := &Router{
		registry: registry,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if err := r.validate(initial); err != nil {
		return nil, err
	}
	r.params.Store(initial)
	return r, nil
}

func (r *Router) Registry() *unitsx.Registry {
	return r.registry
}

// Parameters returns the published snapshot. Callers must not modify it.
func (r *Router) Parameters() *contractx.RouterParameters {
	return r.params.Load()
}

// Publish replaces the snapshot unconditionally.
func (r *Router) Publish(next *contractx.RouterParameters) error {
	if err := r.validate(next); err != nil {
		return err
	}
	r.params.Store(next)
	return nil
}

// CompareAndSwap publishes next only when old is still the current snapshot.
func (r *Router) CompareAndSwap(old, next *contractx.RouterParameters) (bool, error) {
	if err := r.validate(next); err != nil {
		return false, err
	}
	return r.params.CompareAndSwap(old, next), nil
}

func (r *Router) validate(p *contractx.RouterParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, ok := r.registry.Get(p.Fallback); !ok {
		return fmt.Errorf("%w: fallback unit %s is not registered", contractx.ErrInvalidParameters, p.Fallback)
	}
	for id := range p.Weights {
		if _, ok := r.registry.Get(id); !ok {
			return fmt.Errorf("%w: weight for unregistered unit %s", contractx.ErrInvalidParameters, id)
		}
	}
	return nil
}

type candidate struct {
	id     contractx.UnitID
	score  float64
	volume uint64
}

// Rank returns the eligible units for conv under params, best first.
func (r *Router) Rank(conv contractx.Conversation, params *contractx.RouterParameters) []contractx.UnitID {
	cands := r.rank(conv, params)
	out := make([]contractx.UnitID, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.id)
	}
	return out
}

func (r *Router) rank(conv contractx.Conversation, params *contractx.RouterParameters) []candidate {
	category := unitsx.NormalizeCategory(conv.Category)
	cands := make([]candidate, 0, r.registry.Len())
	for _, id := range r.registry.IDs() {
		if math.IsNaN(conv.Confidence) || conv.Confidence < params.Threshold(id) {
			continue
		}
		unit, _ := r.registry.Get(id)
		c := candidate{
			id:    id,
			score: conv.Confidence * unit.Affinity(category) * params.Weight(id),
		}
		if r.volumes != nil {
			c.volume = r.volumes.Volume(id)
		}
		cands = append(cands, c)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].volume != cands[j].volume {
			return cands[i].volume < cands[j].volume
		}
		return cands[i].id < cands[j].id
	})
	return cands
}

// Route selects a unit, asks it to decide, and returns the resulting record.
// Units failing with ErrDecisionUnavailable are skipped; the fallback unit
// is tried last. When nothing answers the error is an *UnhandledError.
func (r *Router) Route(ctx context.Context, conv contractx.Conversation, profile contractx.CustomerProfile) (contractx.DecisionRecord, error) {
	if err := conv.Validate(); err != nil {
		return contractx.DecisionRecord{}, err
	}
	params := r.params.Load()
	cands := r.rank(conv, params)

	order := make([]contractx.UnitID, 0, len(cands)+1)
	for _, c := range cands {
		order = append(order, c.id)
	}
	fallbackFrom := len(order)
	if !containsUnit(order, params.Fallback) {
		order = append(order, params.Fallback)
	}

	failures := make(map[contractx.UnitID]error)
	attempts := make([]contractx.UnitID, 0, len(order))
	for i, id := range order {
		if err := ctx.Err(); err != nil {
			return contractx.DecisionRecord{}, err
		}
		unit, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		attempts = append(attempts, id)

		decision, err := unit.Decide(ctx, conv, profile)
		if err != nil {
			if errors.Is(err, contractx.ErrDecisionUnavailable) {
				failures[id] = err
				log.Debug().Err(err).Str("unit", string(id)).Str("conversation_id", conv.ID).Msg("decision unavailable, re-routing")
				continue
			}
			return contractx.DecisionRecord{}, fmt.Errorf("unit %s decide: %w", id, err)
		}

		fallback := i >= fallbackFrom || len(cands) == 0 || (id == params.Fallback && len(failures) > 0)
		rec := contractx.DecisionRecord{
			ID:                r.newID(),
			ConversationID:    conv.ID,
			CustomerID:        conv.CustomerID,
			UnitID:            id,
			Response:          decision.Response,
			Confidence:        clamp01(decision.Confidence),
			NextAction:        decision.NextAction,
			Fallback:          fallback,
			Category:          unitsx.NormalizeCategory(conv.Category),
			Tags:              append([]string(nil), conv.Tags...),
			ParametersVersion: params.Version,
			Attempts:          attempts,
			DecidedAt:         r.now(),
		}
		log.Debug().
			Str("conversation_id", conv.ID).
			Str("decision_id", rec.ID).
			Str("unit", string(id)).
			Bool("fallback", fallback).
			Uint64("parameters_version", params.Version).
			Msg("conversation routed")
		return rec, nil
	}

	return contractx.DecisionRecord{}, &contractx.UnhandledError{
		ConversationID: conv.ID,
		Attempts:       failures,
	}
}

func containsUnit(ids []contractx.UnitID, id contractx.UnitID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
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
