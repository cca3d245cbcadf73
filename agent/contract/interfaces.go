package contract

import "context"

// DecisionUnit proposes a response for one conversation. Implementations
// must not keep mutable state between calls.
type DecisionUnit interface {
	ID() UnitID
	Affinity(category string) float64
	Decide(ctx context.Context, conv Conversation, profile CustomerProfile) (Decision, error)
}

type Classifier interface {
	Classify(ctx context.Context, text string) (category string, confidence float64, err error)
}

type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

type Tagger interface {
	Tags(ctx context.Context, text string) ([]string, error)
}

// Analysis is one reading of a customer message.
type Analysis struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
}

// Analyzer classifies and tags a message in a single call.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

type GenerationRequest struct {
	UnitID       UnitID   `json:"unit_id"`
	UserMessage  string   `json:"user_message"`
	Category     string   `json:"category"`
	Tags         []string `json:"tags,omitempty"`
	RecentTopics []string `json:"recent_topics,omitempty"`
	NextAction   string   `json:"next_action"`
}

// VolumeSource exposes per-unit handled volume for load-balancing tie breaks.
type VolumeSource interface {
	Volume(id UnitID) uint64
}
