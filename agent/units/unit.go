package units

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

const (
	maxConfidence   = 0.95
	keywordBoost    = 0.1
	affinityBoost   = 0.2
	repeatTopicBump = 0.05
)

// rule picks a next action when any keyword occurs in the customer text.
type rule struct {
	action   string
	keywords []string
}

// definition is the static description of one unit variant.
type definition struct {
	id              contractx.UnitID
	affinity        map[string]float64
	rules           []rule
	defaultAction   string
	baseConfidence  float64
	requireCustomer bool
	responses       map[string]string
	// adjust lets a variant override the chosen action from the customer profile.
	adjust func(action string, profile contractx.CustomerProfile) string
}

// Unit is the shared decision logic; variants differ only in their definition.
type Unit struct {
	def       definition
	generator contractx.Generator
}

var _ contractx.DecisionUnit = (*Unit)(nil)

type Option func(*Unit)

// WithGenerator lets the unit phrase responses through a text-generation collaborator.
func WithGenerator(g contractx.Generator) Option {
	return func(u *Unit) {
		u.generator = g
	}
}

// WithAffinity overrides category affinities; "*" sets the wildcard.
func WithAffinity(overrides map[string]float64) Option {
	return func(u *Unit) {
		if len(overrides) == 0 {
			return
		}
		merged := make(map[string]float64, len(u.def.affinity)+len(overrides))
		for k, v := range u.def.affinity {
			merged[k] = v
		}
		for k, v := range overrides {
			if k != "*" {
				k = NormalizeCategory(k)
			}
			merged[k] = v
		}
		u.def.affinity = merged
	}
}

func newUnit(def definition, opts ...Option) *Unit {
	u := &Unit{def: def}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

func (u *Unit) ID() contractx.UnitID {
	return u.def.id
}

func (u *Unit) Affinity(category string) float64 {
	if v, ok := u.def.affinity[NormalizeCategory(category)]; ok {
		return v
	}
	return u.def.affinity["*"]
}

func (u *Unit) Decide(ctx context.Context, conv contractx.Conversation, profile contractx.CustomerProfile) (contractx.Decision, error) {
	text := conv.LastCustomerText()
	if text == "" {
		return contractx.Decision{}, fmt.Errorf("%w: unit=%s conversation=%s has no customer text", contractx.ErrDecisionUnavailable, u.def.id, conv.ID)
	}
	if u.def.requireCustomer && strings.TrimSpace(conv.CustomerID) == "" {
		return contractx.Decision{}, fmt.Errorf("%w: unit=%s requires a customer id", contractx.ErrDecisionUnavailable, u.def.id)
	}

	action, hits := u.matchAction(text)
	if u.def.adjust != nil {
		action = u.def.adjust(action, profile)
	}

	confidence := u.def.baseConfidence + keywordBoost*float64(hits) + affinityBoost*u.Affinity(conv.Category)
	if repeatsTopic(profile, NormalizeCategory(conv.Category)) {
		confidence += repeatTopicBump
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	response, err := u.respond(ctx, conv, profile, text, action)
	if err != nil {
		return contractx.Decision{}, err
	}

	return contractx.Decision{
		Response:   response,
		Confidence: confidence,
		NextAction: action,
	}, nil
}

func (u *Unit) matchAction(text string) (string, int) {
	lower := strings.ToLower(text)
	action := u.def.defaultAction
	matched := false
	hits := 0
	for _, r := range u.def.rules {
		ruleHit := false
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				hits++
				ruleHit = true
			}
		}
		if ruleHit && !matched {
			action = r.action
			matched = true
		}
	}
	if hits > 3 {
		hits = 3
	}
	return action, hits
}

func (u *Unit) respond(
	ctx context.Context,
	conv contractx.Conversation,
	profile contractx.CustomerProfile,
	text string,
	action string,
) (string, error) {
	static := u.def.responses[action]
	if static == "" {
		static = u.def.responses[u.def.defaultAction]
	}

	if u.generator == nil {
		return static, nil
	}

	out, err := u.generator.Generate(ctx, contractx.GenerationRequest{
		UnitID:       u.def.id,
		UserMessage:  text,
		Category:     NormalizeCategory(conv.Category),
		Tags:         conv.Tags,
		RecentTopics: profile.RecentCategories(),
		NextAction:   action,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		log.Warn().Err(err).Str("unit", string(u.def.id)).Str("conversation_id", conv.ID).Msg("generator failed, using static response")
		return static, nil
	}
	if out = strings.TrimSpace(out); out == "" {
		return static, nil
	}
	return out, nil
}

func repeatsTopic(profile contractx.CustomerProfile, category string) bool {
	if category == "" {
		return false
	}
	seen := 0
	for _, h := range profile.History {
		if h.Category == category {
			seen++
		}
	}
	return seen >= 2
}
