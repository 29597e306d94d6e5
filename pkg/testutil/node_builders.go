// Package testutil provides graph and workflow builders for tests.
package testutil

import (
	"github.com/google/uuid"

	"github.com/trellisflow/trellis/pkg/models"
)

// CreateTestNode creates a node with default values that can be
// overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:         uuid.New().String(),
		Type:       "log",
		Name:       "Test Node",
		Parameters: map[string]any{"message": "test", "level": "info"},
		Position:   models.Position{X: 100, Y: 200},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithWebhookTrigger configures the node as a webhook trigger node.
func WithWebhookTrigger() func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeTriggerWebhook
		n.Parameters = map[string]any{}
	}
}

// WithParameters sets the node parameters.
func WithParameters(parameters map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Parameters = parameters
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithPosition sets the node position.
func WithPosition(x, y int) func(*models.Node) {
	return func(n *models.Node) {
		n.Position = models.Position{X: x, Y: y}
	}
}

// WithDisabled marks the node disabled.
func WithDisabled() func(*models.Node) {
	return func(n *models.Node) {
		n.Disabled = true
	}
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
	}
}

// WithID sets the node ID.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// CreateTestWorkflow creates an empty active workflow owned by
// "test-user".
func CreateTestWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		OwnerID:     "test-user",
		Active:      true,
		Nodes:       []*models.Node{},
		Connections: []*models.Connection{},
	}
}

// CreateTestWorkflowWithNodes creates a workflow with a webhook
// trigger wired to a log node.
func CreateTestWorkflowWithNodes() *models.Workflow {
	workflow := CreateTestWorkflow()

	triggerNode := CreateTestNode(WithWebhookTrigger(), WithID("trigger-1"))
	actionNode := CreateTestNode(WithID("action-1"), WithName("Log Action"))

	workflow.Nodes = []*models.Node{triggerNode, actionNode}
	workflow.Connections = []*models.Connection{
		CreateTestConnection("trigger-1", "action-1"),
	}

	return workflow
}

// CreateTestConnection connects two nodes on their main ports.
func CreateTestConnection(sourceNodeID, targetNodeID string) *models.Connection {
	return &models.Connection{
		ID:           uuid.New().String(),
		SourceNodeID: sourceNodeID,
		SourceOutput: models.DefaultPort,
		TargetNodeID: targetNodeID,
		TargetInput:  models.DefaultPort,
	}
}
