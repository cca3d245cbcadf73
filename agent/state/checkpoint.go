package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrNilCheckpoint      = errors.New("checkpoint is nil")
	ErrInvalidCheckpoint  = errors.New("checkpoint id is empty")
	ErrDecisionNotFound   = errors.New("decision not found")
)

// Checkpoint is a point-in-time copy of the coordinator's learned state.
type Checkpoint struct {
	// Identity
	CoordinatorID string `json:"coordinator_id"`
	Version       int    `json:"version"`

	// Customer profiles are not part of a checkpoint; only aggregates are.
	Parameters        *contractx.RouterParameters  `json:"parameters"`
	Performance       []contractx.PerformanceStats `json:"performance"`
	CategoryFrequency map[string]uint64            `json:"category_frequency,omitempty"`
	TagFrequency      map[string]uint64            `json:"tag_frequency,omitempty"`
	OptimizationRuns  int                          `json:"optimization_runs"`

	TakenAt time.Time `json:"taken_at"`
}

func (c *Checkpoint) Validate() error {
	if c == nil {
		return ErrNilCheckpoint
	}
	if strings.TrimSpace(c.CoordinatorID) == "" {
		return ErrInvalidCheckpoint
	}
	if c.Parameters != nil {
		if err := c.Parameters.Validate(); err != nil {
			return fmt.Errorf("checkpoint parameters: %w", err)
		}
	}
	return nil
}

// SnapshotStore persists coordinator checkpoints.
type SnapshotStore interface {
	Load(ctx context.Context, coordinatorID string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
}
