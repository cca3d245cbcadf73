package contract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrConfiguration          = errors.New("configuration error")
	ErrNoUnitsRegistered      = fmt.Errorf("%w: no decision units registered", ErrConfiguration)
	ErrInvalidParameters      = fmt.Errorf("%w: invalid router parameters", ErrConfiguration)
	ErrDecisionUnavailable    = errors.New("decision unavailable")
	ErrUnhandled              = errors.New("conversation unhandled")
	ErrOptimizationInProgress = errors.New("optimization in progress")
	ErrInsufficientData       = errors.New("insufficient data")
)

// UnhandledError is returned by routing when every candidate unit failed.
type UnhandledError struct {
	ConversationID string
	Attempts       map[UnitID]error
}

func (e *UnhandledError) Error() string {
	ids := make([]string, 0, len(e.Attempts))
	for id := range e.Attempts {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Attempts[UnitID(id)]))
	}
	return fmt.Sprintf("%s: conversation=%s attempts=[%s]", ErrUnhandled, e.ConversationID, strings.Join(parts, "; "))
}

func (e *UnhandledError) Unwrap() error {
	return ErrUnhandled
}
