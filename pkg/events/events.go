// Package events defines the event types exchanged between the API, the
// dispatcher, and the gateway, plus the Publisher that emits them.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags every published event.
type EventType string

// Bus topics. Workflow change notifications and execution lifecycle
// events travel on separate topics so the dispatcher and the gateway
// each consume only what they act on.
const (
	WorkflowsTopic  = "trellis.workflows"
	ExecutionsTopic = "trellis.executions"
	ControlTopic    = "trellis.executions.control"
)

// Watermill message metadata keys.
const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow change notifications (WorkflowsTopic).
	WorkflowUpdatedEvent EventType = "workflow.updated"
	WorkflowDeletedEvent EventType = "workflow.deleted"

	// Execution lifecycle events (ExecutionsTopic).
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionProgressEvent  EventType = "execution.progress"
	ExecutionLogEvent       EventType = "execution.log"

	// Per-node lifecycle events (ExecutionsTopic).
	NodeStartedEvent   EventType = "node.started"
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"

	// Control events (ControlTopic).
	ExecutionCancelRequestedEvent EventType = "execution.cancel.requested"
)

// Event is anything the bus can carry.
type Event interface {
	GetType() EventType
}

// ExecutionEvent is the envelope for every execution and node lifecycle
// change. Type tags the payload; NodeID, Data, and Error are filled only
// where they apply, so consumers see one stable JSON shape.
type ExecutionEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (e ExecutionEvent) GetType() EventType {
	return e.Type
}

// NewExecutionEvent stamps identity and time onto an execution event.
func NewExecutionEvent(eventType EventType, executionID, workflowID string) ExecutionEvent {
	return ExecutionEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Timestamp:   time.Now().UTC(),
	}
}

// WorkflowUpdated notifies dispatchers that a workflow's persisted state
// changed and trigger bindings may need re-syncing.
type WorkflowUpdated struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func (w WorkflowUpdated) GetType() EventType {
	return WorkflowUpdatedEvent
}

// WorkflowDeleted notifies dispatchers that a workflow is gone and its
// trigger bindings must be torn down.
type WorkflowDeleted struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func (w WorkflowDeleted) GetType() EventType {
	return WorkflowDeletedEvent
}

// ExecutionCancelRequested asks whichever process owns the running
// execution to cancel it. Engines that do not own the run ignore it.
type ExecutionCancelRequested struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e ExecutionCancelRequested) GetType() EventType {
	return ExecutionCancelRequestedEvent
}

// NewWorkflowUpdated builds a workflow.updated notification.
func NewWorkflowUpdated(workflowID string) WorkflowUpdated {
	return WorkflowUpdated{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Timestamp:  time.Now().UTC(),
	}
}

// NewWorkflowDeleted builds a workflow.deleted notification.
func NewWorkflowDeleted(workflowID string) WorkflowDeleted {
	return WorkflowDeleted{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Timestamp:  time.Now().UTC(),
	}
}

// NewExecutionCancelRequested builds a cancel control event.
func NewExecutionCancelRequested(executionID, workflowID, requestedBy string) ExecutionCancelRequested {
	return ExecutionCancelRequested{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		RequestedBy: requestedBy,
		Timestamp:   time.Now().UTC(),
	}
}
