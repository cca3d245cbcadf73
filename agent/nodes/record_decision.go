package orchestratornode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

type DecisionSink interface {
	SaveDecision(ctx context.Context, rec contractx.DecisionRecord) error
}

type DecisionObserver interface {
	ObserveDecision(rec contractx.DecisionRecord, seconds float64)
}

// RecordDecision appends the decision to the audit log. The decision stands
// even when the audit write fails.
func RecordDecision(
	ctx context.Context,
	in *GraphState,
	sink DecisionSink,
	observer DecisionObserver,
	nowFn func() time.Time,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	if sink != nil {
		if err := sink.SaveDecision(context.WithoutCancel(ctx), in.Record); err != nil {
			log.Error().Err(err).
				Str("decision_id", in.Record.ID).
				Str("conversation_id", in.Record.ConversationID).
				Msg("save decision failed")
		}
	}
	if observer != nil {
		observer.ObserveDecision(in.Record, nowFn().Sub(in.StartedAt).Seconds())
	}

	log.Info().
		Str("decision_id", in.Record.ID).
		Str("conversation_id", in.Record.ConversationID).
		Str("unit", string(in.Record.UnitID)).
		Bool("fallback", in.Record.Fallback).
		Float64("confidence", in.Record.Confidence).
		Uint64("parameters_version", in.Record.ParametersVersion).
		Msg("conversation routed")
	return in, nil
}
