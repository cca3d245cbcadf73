package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	unitsx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/units"
)

const maxTags = 5

type classifierLLMOutput struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
}

// Classifier labels customer messages with a category, a confidence and tags.
type Classifier struct {
	runner compose.Runnable[map[string]any, classifierLLMOutput]
}

var (
	_ contractx.Classifier = (*Classifier)(nil)
	_ contractx.Tagger     = (*Classifier)(nil)
	_ contractx.Analyzer   = (*Classifier)(nil)
)

func NewClassifier(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*Classifier, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: classifier chat model is nil", contractx.ErrConfiguration)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: classifier", contractx.ErrPromptMissing)
	}
	runner, err := compileStructuredGraph[classifierLLMOutput](ctx, chatModel, systemPrompt, "llm.classifier")
	if err != nil {
		return nil, fmt.Errorf("%w: compile classifier graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Classifier{runner: runner}, nil
}

func NewClassifierFromConfig(ctx context.Context, cfg Config, systemPrompt string) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	orCfg := cfg.ClassifierOpenRouter()
	chatModel, err := orCfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: classifier: %v", contractx.ErrConfiguration, err)
	}
	return NewClassifier(ctx, chatModel, systemPrompt)
}

func (c *Classifier) Analyze(ctx context.Context, text string) (contractx.Analysis, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return contractx.Analysis{}, fmt.Errorf("%w: text is required", contractx.ErrValidation)
	}

	inputBytes, err := json.Marshal(map[string]any{"message": text})
	if err != nil {
		return contractx.Analysis{}, fmt.Errorf("%w: marshal classifier payload: %v", contractx.ErrValidation, err)
	}

	out, err := c.runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contractx.Analysis{}, ctxErr
		}
		return contractx.Analysis{}, fmt.Errorf("%w: classifier invoke: %v", contractx.ErrModelInvoke, err)
	}
	return validateClassifierOutput(out)
}

func (c *Classifier) Classify(ctx context.Context, text string) (string, float64, error) {
	a, err := c.Analyze(ctx, text)
	if err != nil {
		return "", 0, err
	}
	return a.Category, a.Confidence, nil
}

func (c *Classifier) Tags(ctx context.Context, text string) ([]string, error) {
	a, err := c.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	return a.Tags, nil
}

func validateClassifierOutput(out classifierLLMOutput) (contractx.Analysis, error) {
	category := unitsx.NormalizeCategory(out.Category)
	if !unitsx.IsKnownCategory(category) {
		return contractx.Analysis{}, fmt.Errorf("%w: unsupported category=%q", contractx.ErrSchemaViolation, out.Category)
	}
	if math.IsNaN(out.Confidence) {
		return contractx.Analysis{}, fmt.Errorf("%w: confidence is not a number", contractx.ErrSchemaViolation)
	}
	confidence := math.Max(0, math.Min(1, out.Confidence))

	seen := make(map[string]bool, len(out.Tags))
	tags := make([]string, 0, len(out.Tags))
	for _, tag := range out.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}

	return contractx.Analysis{Category: category, Confidence: confidence, Tags: tags}, nil
}
