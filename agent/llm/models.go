package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

// Models lists the distinct model names the units and the classifier resolve to.
func (c Config) Models(units []contractx.UnitID) []string {
	seen := map[string]bool{c.ClassifierOpenRouter().Model: true}
	for _, unit := range units {
		seen[c.OpenRouterFor(unit).Model] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CheckModels asks the endpoint for each model and reports the ones it does not serve.
func CheckModels(ctx context.Context, client *openaisdk.Client, models []string) error {
	if client == nil {
		return fmt.Errorf("%w: openai client is nil", contractx.ErrConfiguration)
	}
	var errs []error
	for _, name := range models {
		m, err := client.Models.Get(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", name, err))
			continue
		}
		if !strings.EqualFold(m.ID, name) {
			errs = append(errs, fmt.Errorf("model %s: endpoint answered with %q", name, m.ID))
		}
	}
	return errors.Join(errs...)
}
