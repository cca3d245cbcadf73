package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

type Router interface {
	Route(ctx context.Context, conv contractx.Conversation, profile contractx.CustomerProfile) (contractx.DecisionRecord, error)
}

func RouteAndDecide(ctx context.Context, in *GraphState, router Router) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	rec, err := router.Route(ctx, in.Conversation, in.Profile)
	if err != nil {
		return nil, err
	}
	in.Record = rec
	return in, nil
}
