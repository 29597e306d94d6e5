package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusError     ExecutionStatus = "error"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusPartial   ExecutionStatus = "partial" // Some branches succeeded, others failed
)

// Terminal reports whether the status can no longer change.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionStatusPending && s != ExecutionStatusRunning
}

// ExecutionMode distinguishes full graph runs from single-node test runs.
type ExecutionMode string

const (
	// ExecutionModeWorkflow runs the graph from its entry points (or from
	// one node downstream when a start node is given).
	ExecutionModeWorkflow ExecutionMode = "workflow"

	// ExecutionModeSingle runs exactly one node in isolation with
	// caller-supplied input.
	ExecutionModeSingle ExecutionMode = "single"
)

// NodeStatus is the per-node state within one execution.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
	NodeStatusSkipped NodeStatus = "skipped" // Disabled, or reachable only through a failed node
)

// Terminal reports whether the node finished (successfully or not).
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSuccess || s == NodeStatusError || s == NodeStatusSkipped
}

// NodeResult records one node's outcome within an execution. Output is
// keyed by output port name.
type NodeResult struct {
	NodeID     string         `json:"node_id"`
	Status     NodeStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// GraphSnapshot freezes the workflow graph at execution start so that
// history rendering and retries are immune to later edits.
type GraphSnapshot struct {
	Nodes       []*Node          `json:"nodes"`
	Connections []*Connection    `json:"connections"`
	Settings    WorkflowSettings `json:"settings"`
}

// Node returns the snapshot node with the given ID, or nil.
func (g *GraphSnapshot) Node(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// SnapshotWorkflow deep-copies the executable parts of a workflow.
func SnapshotWorkflow(w *Workflow) *GraphSnapshot {
	snapshot := &GraphSnapshot{
		Nodes:       make([]*Node, 0, len(w.Nodes)),
		Connections: make([]*Connection, 0, len(w.Connections)),
		Settings:    w.Settings,
	}

	for _, n := range w.Nodes {
		node := *n

		if n.Parameters != nil {
			node.Parameters = make(map[string]any, len(n.Parameters))
			for k, v := range n.Parameters {
				node.Parameters[k] = v
			}
		}

		snapshot.Nodes = append(snapshot.Nodes, &node)
	}

	for _, c := range w.Connections {
		conn := *c
		snapshot.Connections = append(snapshot.Connections, &conn)
	}

	return snapshot
}

// Execution is one run of a workflow: its status, the trigger context
// that started it, per-node results, and the graph snapshot it ran
// against. Only the orchestrator mutates an execution after creation.
type Execution struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	UserID        string                 `json:"user_id"`
	Status        ExecutionStatus        `json:"status"`
	Mode          ExecutionMode          `json:"mode"`
	TriggerNodeID string                 `json:"trigger_node_id,omitempty"`
	TriggerData   map[string]any         `json:"trigger_data,omitempty"`
	NodeResults   map[string]*NodeResult `json:"node_results"`
	Snapshot      *GraphSnapshot         `json:"snapshot"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
}

// NewExecution creates a pending execution against the given snapshot.
func NewExecution(workflowID, userID string, snapshot *GraphSnapshot) *Execution {
	id := uuid.Must(uuid.NewV7()).String()

	return &Execution{
		ID:          id,
		WorkflowID:  workflowID,
		UserID:      userID,
		Status:      ExecutionStatusPending,
		Mode:        ExecutionModeWorkflow,
		NodeResults: make(map[string]*NodeResult),
		Snapshot:    snapshot,
		CreatedAt:   time.Now().UTC(),
	}
}

// Duration returns the wall-clock time between start and finish, or 0
// while either is unset.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}

	return e.FinishedAt.Sub(*e.StartedAt)
}

// Result returns the recorded result for a node, or nil.
func (e *Execution) Result(nodeID string) *NodeResult {
	return e.NodeResults[nodeID]
}
