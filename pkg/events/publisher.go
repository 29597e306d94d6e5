package events

import (
	"context"
	"log/slog"

	"github.com/trellisflow/trellis/pkg/metrics"
	"github.com/trellisflow/trellis/pkg/models"
)

// Bus is the slice of the event bus the publisher needs.
type Bus interface {
	Publish(ctx context.Context, topic, key string, event Event) error
}

// Publisher emits lifecycle events onto the bus. Publish failures are
// logged and counted but never propagated: losing an event must not
// fail the execution that produced it.
type Publisher struct {
	bus     Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPublisher wires a publisher to the given bus.
func NewPublisher(bus Bus, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		bus:     bus,
		logger:  logger.With("module", "event_publisher"),
		metrics: m,
	}
}

// PublishExecutionStarted announces that an execution left pending.
func (p *Publisher) PublishExecutionStarted(ctx context.Context, execution *models.Execution) {
	event := NewExecutionEvent(ExecutionStartedEvent, execution.ID, execution.WorkflowID)
	event.Data = map[string]any{
		"status":          string(models.ExecutionStatusRunning),
		"mode":            string(execution.Mode),
		"trigger_node_id": execution.TriggerNodeID,
	}

	p.publish(ctx, execution.ID, event)
}

// PublishExecutionCompleted announces a terminal success or partial.
func (p *Publisher) PublishExecutionCompleted(ctx context.Context, execution *models.Execution) {
	event := NewExecutionEvent(ExecutionCompletedEvent, execution.ID, execution.WorkflowID)
	event.Data = map[string]any{
		"status":      string(execution.Status),
		"duration_ms": execution.Duration().Milliseconds(),
		"nodes":       len(execution.NodeResults),
	}

	p.publish(ctx, execution.ID, event)
}

// PublishExecutionFailed announces a terminal error status.
func (p *Publisher) PublishExecutionFailed(ctx context.Context, execution *models.Execution) {
	event := NewExecutionEvent(ExecutionFailedEvent, execution.ID, execution.WorkflowID)
	event.Error = execution.Error
	event.Data = map[string]any{
		"status":      string(execution.Status),
		"duration_ms": execution.Duration().Milliseconds(),
	}

	p.publish(ctx, execution.ID, event)
}

// PublishExecutionCancelled announces a cancelled execution.
func (p *Publisher) PublishExecutionCancelled(ctx context.Context, execution *models.Execution) {
	event := NewExecutionEvent(ExecutionCancelledEvent, execution.ID, execution.WorkflowID)
	event.Data = map[string]any{
		"status": string(models.ExecutionStatusCancelled),
	}

	p.publish(ctx, execution.ID, event)
}

// PublishProgress reports completed-of-total node counts mid-run.
func (p *Publisher) PublishProgress(ctx context.Context, execution *models.Execution, completed, total int) {
	event := NewExecutionEvent(ExecutionProgressEvent, execution.ID, execution.WorkflowID)
	event.Data = map[string]any{
		"completed": completed,
		"total":     total,
	}

	p.publish(ctx, execution.ID, event)
}

// PublishLog forwards a node's log line to subscribers.
func (p *Publisher) PublishLog(ctx context.Context, execution *models.Execution, nodeID, level, message string) {
	event := NewExecutionEvent(ExecutionLogEvent, execution.ID, execution.WorkflowID)
	event.NodeID = nodeID
	event.Data = map[string]any{
		"level":   level,
		"message": message,
	}

	p.publish(ctx, execution.ID, event)
}

// PublishNodeStarted announces that a node began executing.
func (p *Publisher) PublishNodeStarted(ctx context.Context, execution *models.Execution, nodeID string) {
	event := NewExecutionEvent(NodeStartedEvent, execution.ID, execution.WorkflowID)
	event.NodeID = nodeID
	event.Data = map[string]any{
		"status": string(models.NodeStatusRunning),
	}

	p.publish(ctx, execution.ID, event)
}

// PublishNodeCompleted announces a node's terminal result, skipped
// included.
func (p *Publisher) PublishNodeCompleted(ctx context.Context, execution *models.Execution, result *models.NodeResult) {
	event := NewExecutionEvent(NodeCompletedEvent, execution.ID, execution.WorkflowID)
	event.NodeID = result.NodeID
	event.Data = map[string]any{
		"status":      string(result.Status),
		"duration_ms": nodeDurationMs(result),
	}

	p.publish(ctx, execution.ID, event)
}

// PublishNodeFailed announces a node error.
func (p *Publisher) PublishNodeFailed(ctx context.Context, execution *models.Execution, result *models.NodeResult) {
	event := NewExecutionEvent(NodeFailedEvent, execution.ID, execution.WorkflowID)
	event.NodeID = result.NodeID
	event.Error = result.Error
	event.Data = map[string]any{
		"status":      string(result.Status),
		"duration_ms": nodeDurationMs(result),
	}

	p.publish(ctx, execution.ID, event)
}

// PublishWorkflowUpdated notifies dispatchers after a successful save.
func (p *Publisher) PublishWorkflowUpdated(ctx context.Context, workflowID string) {
	p.publishTo(ctx, WorkflowsTopic, workflowID, NewWorkflowUpdated(workflowID))
}

// PublishWorkflowDeleted notifies dispatchers after a delete.
func (p *Publisher) PublishWorkflowDeleted(ctx context.Context, workflowID string) {
	p.publishTo(ctx, WorkflowsTopic, workflowID, NewWorkflowDeleted(workflowID))
}

// PublishCancelRequested broadcasts a cancel to every engine; the one
// owning the run acts on it.
func (p *Publisher) PublishCancelRequested(ctx context.Context, executionID, workflowID, requestedBy string) {
	p.publishTo(ctx, ControlTopic, executionID, NewExecutionCancelRequested(executionID, workflowID, requestedBy))
}

func (p *Publisher) publish(ctx context.Context, key string, event ExecutionEvent) {
	p.publishTo(ctx, ExecutionsTopic, key, event)
}

func (p *Publisher) publishTo(ctx context.Context, topic, key string, event Event) {
	err := p.bus.Publish(ctx, topic, key, event)
	if err != nil {
		p.logger.WarnContext(ctx, "Dropped event",
			"topic", topic,
			"event_type", string(event.GetType()),
			"key", key,
			"error", err)

		if p.metrics != nil {
			p.metrics.EventDropped()
		}

		return
	}

	if p.metrics != nil {
		p.metrics.EventPublished(string(event.GetType()))
	}
}

func nodeDurationMs(result *models.NodeResult) int64 {
	if result.StartedAt == nil || result.FinishedAt == nil {
		return 0
	}

	return result.FinishedAt.Sub(*result.StartedAt).Milliseconds()
}
