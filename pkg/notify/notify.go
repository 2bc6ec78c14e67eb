// Package notify delivers execution outcome notifications. Delivery is
// fire-and-forget: a failed notification never changes an execution's
// recorded status.
package notify

import (
	"context"
	"log/slog"

	"github.com/weirlabs/weir/pkg/eventbus"
	"github.com/weirlabs/weir/pkg/events"
	"github.com/weirlabs/weir/pkg/models"
)

// Notifier is invoked by the engine when an execution reaches a terminal
// status and the workflow settings ask for it.
type Notifier interface {
	ExecutionCompleted(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionFailed(ctx context.Context, execution *models.WorkflowExecution) error
}

// EventBusNotifier publishes lifecycle events on the event bus.
type EventBusNotifier struct {
	bus eventbus.EventPublisher
}

func NewEventBusNotifier(bus eventbus.EventPublisher) *EventBusNotifier {
	return &EventBusNotifier{bus: bus}
}

func (n *EventBusNotifier) ExecutionCompleted(ctx context.Context, execution *models.WorkflowExecution) error {
	event := events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		Duration:    execution.DurationMS,
	}

	return n.bus.Publish(ctx, execution.WorkflowID, event)
}

func (n *EventBusNotifier) ExecutionFailed(ctx context.Context, execution *models.WorkflowExecution) error {
	event := events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		Error:       execution.Error,
		Duration:    execution.DurationMS,
	}

	return n.bus.Publish(ctx, execution.WorkflowID, event)
}

// LogNotifier records outcomes on the application log. Used when no event bus
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ExecutionCompleted(ctx context.Context, execution *models.WorkflowExecution) error {
	n.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"duration_ms", execution.DurationMS,
	)

	return nil
}

func (n *LogNotifier) ExecutionFailed(ctx context.Context, execution *models.WorkflowExecution) error {
	n.logger.WarnContext(ctx, "Execution failed",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"error", execution.Error,
	)

	return nil
}
