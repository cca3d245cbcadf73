package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

func FinalizeDecision(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Record.ID == "" || in.Record.UnitID == "" {
		return GraphOutput{}, fmt.Errorf("%w: decision record is incomplete", contractx.ErrValidation)
	}
	return GraphOutput{Record: in.Record}, nil
}
