package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

type ProfileReader interface {
	Profile(customerID string) (contractx.CustomerProfile, bool)
}

func LoadProfile(in *GraphState, profiles ProfileReader) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	customerID := in.Conversation.CustomerID
	if customerID == "" || profiles == nil {
		in.Profile = contractx.CustomerProfile{CustomerID: customerID}
		return in, nil
	}
	if p, ok := profiles.Profile(customerID); ok {
		in.Profile = p
		return in, nil
	}
	in.Profile = contractx.CustomerProfile{CustomerID: customerID}
	return in, nil
}
