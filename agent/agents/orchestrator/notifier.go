package orchestrator

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	optimizerx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/optimizer"
	qstashx "github.com/tanpawarit/Chative-Learning-Coordinator/pkg/qstash"
)

type runPublisher interface {
	PublishJSON(ctx context.Context, destination string, v any, opts ...qstashx.PublishOption) (string, error)
}

// QStashRunNotifier forwards finished optimization runs to a webhook through QStash.
type QStashRunNotifier struct {
	client        runPublisher
	destination   string
	coordinatorID string
}

var _ optimizerx.Notifier = (*QStashRunNotifier)(nil)

type runMessage struct {
	CoordinatorID string                    `json:"coordinator_id"`
	Run           contractx.OptimizationRun `json:"run"`
}

func NewQStashRunNotifier(client *qstashx.Client, destination, coordinatorID string) (*QStashRunNotifier, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: qstash client is nil", contractx.ErrConfiguration)
	}
	return newRunNotifier(client, destination, coordinatorID)
}

func newRunNotifier(client runPublisher, destination, coordinatorID string) (*QStashRunNotifier, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, fmt.Errorf("%w: notify destination is required", contractx.ErrConfiguration)
	}
	return &QStashRunNotifier{client: client, destination: destination, coordinatorID: coordinatorID}, nil
}

func (n *QStashRunNotifier) NotifyRun(ctx context.Context, run contractx.OptimizationRun) error {
	_, err := n.client.PublishJSON(ctx, n.destination, runMessage{
		CoordinatorID: n.coordinatorID,
		Run:           run,
	}, qstashx.WithDeduplicationID(run.ID))
	if err != nil {
		return fmt.Errorf("notify run %s: %w", run.ID, err)
	}
	return nil
}
