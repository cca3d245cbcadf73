package orchestratornode

import (
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

type GraphInput struct {
	Conversation contractx.Conversation
}

type GraphOutput struct {
	Record contractx.DecisionRecord
}

type GraphState struct {
	Conversation contractx.Conversation
	Text         string
	StartedAt    time.Time

	Profile contractx.CustomerProfile
	Record  contractx.DecisionRecord
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	conv := in.Conversation
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	conv.ID = strings.TrimSpace(conv.ID)
	conv.CustomerID = strings.TrimSpace(conv.CustomerID)

	return &GraphState{
		Conversation: conv,
		Text:         conv.LastCustomerText(),
		StartedAt:    nowFn(),
	}, nil
}
