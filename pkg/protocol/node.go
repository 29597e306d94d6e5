// Package protocol defines the contracts between the execution engine
// and pluggable node definitions.
package protocol

import (
	"context"
	"log/slog"

	"github.com/trellisflow/trellis/pkg/models"
)

// Output is the data one node run produced, keyed by output port name.
// Downstream connections read from these ports; most definitions write
// only models.DefaultPort.
type Output map[string]map[string]any

// MainOutput wraps data into the default output port.
func MainOutput(data map[string]any) Output {
	return Output{models.DefaultPort: data}
}

// LogFunc forwards a log line produced inside a node run to the
// execution's event stream.
type LogFunc func(level, message string)

// ExecutionInput carries the context for one node run: the snapshot
// node, upstream data grouped by input port, and the trigger data that
// started the execution.
type ExecutionInput struct {
	ExecutionID string
	WorkflowID  string
	Node        *models.Node
	Inputs      map[string]map[string]any
	TriggerData map[string]any
	Logger      *slog.Logger
	Log         LogFunc
}

// MainInput returns the data on the default input port, or nil.
func (in *ExecutionInput) MainInput() map[string]any {
	return in.Inputs[models.DefaultPort]
}

// Emit sends a log line to the execution event stream when a sink is
// wired, falling back to the run logger otherwise.
func (in *ExecutionInput) Emit(level, message string) {
	if in.Log != nil {
		in.Log(level, message)

		return
	}

	if in.Logger != nil {
		in.Logger.Info(message, "level", level)
	}
}

// NodeDefinition supplies metadata and behavior for one node type.
// Definitions are stateless: per-node configuration arrives through
// ExecutionInput.Node.Parameters on every run.
type NodeDefinition interface {
	// Type returns the unique node type identifier (e.g. "httprequest").
	Type() string

	// Name returns the human-readable node type name.
	Name() string

	// Description says what the node does, for editor listings.
	Description() string

	// Schema returns the JSON schema validating node parameters.
	Schema() map[string]any

	// Execute runs the node. A non-nil error marks the node failed;
	// nodes reachable only through the failure are skipped.
	Execute(ctx context.Context, input ExecutionInput) (Output, error)
}

// TriggerNodeDefinition marks node types that can start executions.
// The trigger registry derives one workflow trigger per trigger-capable
// node, and the dispatcher binds it according to TriggerType.
type TriggerNodeDefinition interface {
	NodeDefinition

	// TriggerType returns how the dispatcher binds this node.
	TriggerType() models.TriggerType
}
