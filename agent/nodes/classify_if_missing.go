package orchestratornode

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

// Labelers are the collaborators that fill a missing category or tags.
// Analyzer wins over the Classifier and Tagger pair and is called at most once.
type Labelers struct {
	Analyzer   contractx.Analyzer
	Classifier contractx.Classifier
	Tagger     contractx.Tagger
}

// ClassifyIfMissing fills category and tags for conversations that arrive
// without them. Collaborator failures leave the fields empty.
func ClassifyIfMissing(ctx context.Context, in *GraphState, labelers Labelers) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Text == "" {
		return in, nil
	}

	missingCategory := strings.TrimSpace(in.Conversation.Category) == ""
	missingTags := len(in.Conversation.Tags) == 0
	if !missingCategory && !missingTags {
		return in, nil
	}

	if labelers.Analyzer != nil {
		analysis, err := labelers.Analyzer.Analyze(ctx, in.Text)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn().Err(err).Str("conversation_id", in.Conversation.ID).Msg("analyzer failed")
			return in, nil
		}
		if missingCategory {
			in.Conversation.Category = analysis.Category
			in.Conversation.Confidence = clampConfidence(in.Conversation.ID, analysis.Confidence)
		}
		if missingTags {
			in.Conversation.Tags = analysis.Tags
		}
		return in, nil
	}

	if labelers.Classifier != nil && missingCategory {
		category, confidence, err := labelers.Classifier.Classify(ctx, in.Text)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn().Err(err).Str("conversation_id", in.Conversation.ID).Msg("classifier failed")
		default:
			in.Conversation.Category = category
			in.Conversation.Confidence = clampConfidence(in.Conversation.ID, confidence)
		}
	}

	if labelers.Tagger != nil && missingTags {
		tags, err := labelers.Tagger.Tags(ctx, in.Text)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn().Err(err).Str("conversation_id", in.Conversation.ID).Msg("tagger failed")
		default:
			in.Conversation.Tags = tags
		}
	}

	return in, nil
}

// clampConfidence maps a collaborator confidence into [0,1]; NaN becomes 0.
func clampConfidence(conversationID string, v float64) float64 {
	clamped := v
	switch {
	case math.IsNaN(v):
		clamped = 0
	case v < 0:
		clamped = 0
	case v > 1:
		clamped = 1
	}
	if clamped != v || math.IsNaN(v) {
		log.Warn().Str("conversation_id", conversationID).Float64("confidence", v).Msg("classifier confidence out of range, clamped")
	}
	return clamped
}
