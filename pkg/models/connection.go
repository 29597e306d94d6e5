package models

// DefaultPort is the port name used when a connection leaves the
// source output or target input unset.
const DefaultPort = "main"

// Connection is a directed, port-addressed data edge: it moves the
// source node's named output into the target node's named input.
type Connection struct {
	ID           string `json:"id"             validate:"required"`
	SourceNodeID string `json:"source_node_id" validate:"required"`
	SourceOutput string `json:"source_output,omitempty"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
	TargetInput  string `json:"target_input,omitempty"`
}

// OutputPort returns the source port name, defaulted.
func (c *Connection) OutputPort() string {
	if c.SourceOutput == "" {
		return DefaultPort
	}

	return c.SourceOutput
}

// InputPort returns the target port name, defaulted.
func (c *Connection) InputPort() string {
	if c.TargetInput == "" {
		return DefaultPort
	}

	return c.TargetInput
}
