package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	promptx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/prompt"
)

// Generator writes unit replies with one prompt->model graph per unit.
type Generator struct {
	runners map[contractx.UnitID]compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.Generator = (*Generator)(nil)

func NewGenerator(
	ctx context.Context,
	prompts promptx.PromptSet,
	models map[contractx.UnitID]einomodel.BaseChatModel,
) (*Generator, error) {
	runners := make(map[contractx.UnitID]compose.Runnable[map[string]any, *schema.Message], len(models))
	for unit, chatModel := range models {
		if chatModel == nil {
			return nil, fmt.Errorf("%w: chat model for unit %s is nil", contractx.ErrConfiguration, unit)
		}
		systemPrompt := prompts.For(unit)
		if systemPrompt == "" {
			return nil, fmt.Errorf("%w: unit=%s", contractx.ErrPromptMissing, unit)
		}
		runner, err := compileTextGraph(ctx, chatModel, systemPrompt, "llm.generator."+string(unit))
		if err != nil {
			return nil, fmt.Errorf("%w: compile generator for %s: %v", contractx.ErrModelInvoke, unit, err)
		}
		runners[unit] = runner
	}
	return &Generator{runners: runners}, nil
}

// NewGeneratorFromConfig builds an OpenRouter chat model for every unit.
func NewGeneratorFromConfig(
	ctx context.Context,
	cfg Config,
	prompts promptx.PromptSet,
	unitIDs []contractx.UnitID,
) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	models := make(map[contractx.UnitID]einomodel.BaseChatModel, len(unitIDs))
	for _, unit := range unitIDs {
		orCfg := cfg.OpenRouterFor(unit)
		chatModel, err := orCfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: unit=%s: %v", contractx.ErrConfiguration, unit, err)
		}
		models[unit] = chatModel
	}
	return NewGenerator(ctx, prompts, models)
}

func (g *Generator) Generate(ctx context.Context, req contractx.GenerationRequest) (string, error) {
	runner, ok := g.runners[req.UnitID]
	if !ok {
		return "", fmt.Errorf("%w: no generator for unit %s", contractx.ErrPromptMissing, req.UnitID)
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return "", fmt.Errorf("%w: user message is required", contractx.ErrValidation)
	}

	inputBytes, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshal generation payload: %v", contractx.ErrValidation, err)
	}

	msg, err := runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: generate unit=%s: %v", contractx.ErrModelInvoke, req.UnitID, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w: empty reply from unit=%s", contractx.ErrSchemaViolation, req.UnitID)
	}
	return strings.TrimSpace(msg.Content), nil
}

// Units lists the units that have a compiled generator.
func (g *Generator) Units() []contractx.UnitID {
	out := make([]contractx.UnitID, 0, len(g.runners))
	for id := range g.runners {
		out = append(out, id)
	}
	return out
}
