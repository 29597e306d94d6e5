package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   ExecutionStatus
		terminal bool
	}{
		{ExecutionStatusPending, false},
		{ExecutionStatusRunning, false},
		{ExecutionStatusSuccess, true},
		{ExecutionStatusError, true},
		{ExecutionStatusCancelled, true},
		{ExecutionStatusPartial, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.Terminal(), "status %s", tt.status)
	}
}

func TestNodeStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, NodeStatusPending.Terminal())
	assert.False(t, NodeStatusRunning.Terminal())
	assert.True(t, NodeStatusSuccess.Terminal())
	assert.True(t, NodeStatusError.Terminal())
	assert.True(t, NodeStatusSkipped.Terminal())
}

func TestConnectionPortDefaults(t *testing.T) {
	t.Parallel()

	conn := &Connection{ID: "c1", SourceNodeID: "a", TargetNodeID: "b"}
	assert.Equal(t, DefaultPort, conn.OutputPort())
	assert.Equal(t, DefaultPort, conn.InputPort())

	conn.SourceOutput = "true"
	conn.TargetInput = "left"
	assert.Equal(t, "true", conn.OutputPort())
	assert.Equal(t, "left", conn.InputPort())
}

func TestSnapshotWorkflowIsolatesEdits(t *testing.T) {
	t.Parallel()

	workflow := &Workflow{
		ID: "wf-1",
		Nodes: []*Node{
			{ID: "a", Type: "log", Parameters: map[string]any{"message": "before"}},
		},
		Connections: []*Connection{
			{ID: "c1", SourceNodeID: "a", TargetNodeID: "a"},
		},
		Settings: WorkflowSettings{ContinueOnError: true},
	}

	snapshot := SnapshotWorkflow(workflow)
	require.Len(t, snapshot.Nodes, 1)
	require.Len(t, snapshot.Connections, 1)
	assert.True(t, snapshot.Settings.ContinueOnError)

	workflow.Nodes[0].Parameters["message"] = "after"
	workflow.Nodes[0].Disabled = true
	workflow.Connections[0].TargetNodeID = "b"

	assert.Equal(t, "before", snapshot.Nodes[0].Parameters["message"])
	assert.False(t, snapshot.Nodes[0].Disabled)
	assert.Equal(t, "a", snapshot.Connections[0].TargetNodeID)
}

func TestNewExecutionDefaults(t *testing.T) {
	t.Parallel()

	snapshot := &GraphSnapshot{}
	execution := NewExecution("wf-1", "user-1", snapshot)

	assert.NotEmpty(t, execution.ID)
	assert.Equal(t, "wf-1", execution.WorkflowID)
	assert.Equal(t, "user-1", execution.UserID)
	assert.Equal(t, ExecutionStatusPending, execution.Status)
	assert.Equal(t, ExecutionModeWorkflow, execution.Mode)
	assert.NotNil(t, execution.NodeResults)
	assert.Same(t, snapshot, execution.Snapshot)

	other := NewExecution("wf-1", "user-1", snapshot)
	assert.NotEqual(t, execution.ID, other.ID)
}

func TestWorkflowLookups(t *testing.T) {
	t.Parallel()

	workflow := &Workflow{
		Nodes:    []*Node{{ID: "a"}, {ID: "b"}},
		Triggers: []*Trigger{{ID: "trigger-a", NodeID: "a"}},
	}

	require.NotNil(t, workflow.Node("b"))
	assert.Nil(t, workflow.Node("missing"))
	require.NotNil(t, workflow.Trigger("trigger-a"))
	assert.Nil(t, workflow.Trigger("missing"))
}

func TestTriggerSettingLookup(t *testing.T) {
	t.Parallel()

	trigger := &Trigger{
		ID:   "t1",
		Type: TriggerTypeWebhook,
		Settings: map[string]any{
			TriggerSettingWebhookID: "hook-1",
			"count":                 3,
		},
	}

	assert.Equal(t, "hook-1", trigger.WebhookID())
	assert.Empty(t, trigger.Setting("count"), "non-string settings read as empty")
	assert.Empty(t, (&Trigger{}).WebhookID())
}
