// Package log provides the logging node definition.
package log

import (
	"context"
	"errors"

	"github.com/trellisflow/trellis/pkg/protocol"
)

var levels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Definition implements the "log" node type. The message is forwarded
// to the execution's log event stream so subscribers see it live.
type Definition struct{}

// NewDefinition creates the log node definition.
func NewDefinition() *Definition {
	return &Definition{}
}

// Type returns the node type identifier.
func (d *Definition) Type() string {
	return "log"
}

// Name returns the human-readable node type name.
func (d *Definition) Name() string {
	return "Log"
}

// Description returns what the node does.
func (d *Definition) Description() string {
	return "Writes a message to the execution log stream"
}

// Execute logs the configured message and passes it downstream.
func (d *Definition) Execute(_ context.Context, input protocol.ExecutionInput) (protocol.Output, error) {
	message, ok := input.Node.Parameters["message"].(string)
	if !ok || message == "" {
		return nil, errors.New("missing required field 'message'")
	}

	level := "info"
	if lvl, ok := input.Node.Parameters["level"].(string); ok && levels[lvl] {
		level = lvl
	}

	input.Emit(level, message)

	return protocol.MainOutput(map[string]any{
		"message": message,
		"level":   level,
		"logged":  true,
	}), nil
}

// Schema returns the JSON schema for the node parameters.
func (d *Definition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log",
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}
