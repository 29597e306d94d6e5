package models

import "strings"

// Node is one step in a workflow graph. Its type resolves to a node
// definition which supplies the parameter schema and execution behavior.
type Node struct {
	ID         string         `json:"id"   validate:"required"`
	Type       string         `json:"type" validate:"required"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Position   Position       `json:"position"`
	Disabled   bool           `json:"disabled"` // Disabled nodes stay in the graph but are skipped at run time
}

// Position is the node's placement on the editor canvas.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Built-in trigger node types.
const (
	NodeTypeTriggerWebhook  = "trigger:webhook"
	NodeTypeTriggerSchedule = "trigger:schedule"
	NodeTypeTriggerManual   = "trigger:manual"
)

// IsTrigger reports whether the node is an execution entry point.
// Trigger node types carry the "trigger:" prefix by convention.
func (n *Node) IsTrigger() bool {
	return strings.HasPrefix(n.Type, "trigger:")
}
