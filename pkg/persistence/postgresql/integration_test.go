package postgresql_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/persistence"
)

func buildWorkflow(owner string) *models.Workflow {
	return &models.Workflow{
		ID:      uuid.NewString(),
		Name:    "Order Sync",
		OwnerID: owner,
		Active:  true,
		Nodes: []*models.Node{
			{
				ID:   "fetch",
				Type: "httprequest",
				Name: "Fetch Orders",
				Parameters: map[string]any{
					"url":    "https://api.example.com/orders",
					"method": "GET",
				},
				Position: models.Position{X: 100, Y: 200},
			},
			{
				ID:   "log",
				Type: "log",
				Name: "Log Orders",
			},
		},
		Connections: []*models.Connection{
			{ID: "c1", SourceNodeID: "fetch", TargetNodeID: "log"},
		},
		Triggers: []*models.Trigger{
			{
				ID:     "trigger-fetch",
				Type:   models.TriggerTypeSchedule,
				NodeID: "fetch",
				Active: true,
				Settings: map[string]any{
					models.TriggerSettingExpression: "0 * * * *",
				},
			},
		},
		Settings: models.WorkflowSettings{Timezone: "UTC"},
	}
}

func buildExecution(workflowID, userID string, status models.ExecutionStatus) *models.Execution {
	execution := models.NewExecution(workflowID, userID, &models.GraphSnapshot{
		Nodes: []*models.Node{
			{ID: "fetch", Type: "httprequest"},
		},
		Connections: []*models.Connection{},
	})
	execution.Status = status

	return execution
}

func TestWorkflowRepository_SaveAndGetByID(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := buildWorkflow("user-1")
	workflow.Description = "pulls orders hourly"

	require.NoError(t, repo.Save(ctx, workflow))
	assert.False(t, workflow.CreatedAt.IsZero())
	assert.False(t, workflow.UpdatedAt.IsZero())

	found, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, workflow.ID, found.ID)
	assert.Equal(t, "Order Sync", found.Name)
	assert.Equal(t, "pulls orders hourly", found.Description)
	assert.Equal(t, "user-1", found.OwnerID)
	assert.True(t, found.Active)
	assert.Equal(t, "UTC", found.Settings.Timezone)
	assert.WithinDuration(t, workflow.CreatedAt, found.CreatedAt, time.Second)
	assert.Nil(t, found.DeletedAt)

	require.Len(t, found.Nodes, 2)
	assert.Equal(t, "httprequest", found.Nodes[0].Type)
	assert.Equal(t, "https://api.example.com/orders", found.Nodes[0].Parameters["url"])
	assert.Equal(t, 100, found.Nodes[0].Position.X)

	require.Len(t, found.Connections, 1)
	assert.Equal(t, "fetch", found.Connections[0].SourceNodeID)
	assert.Equal(t, "log", found.Connections[0].TargetNodeID)

	require.Len(t, found.Triggers, 1)
	assert.Equal(t, models.TriggerTypeSchedule, found.Triggers[0].Type)
	assert.Equal(t, "0 * * * *", found.Triggers[0].Settings[models.TriggerSettingExpression])
}

func TestWorkflowRepository_Save_AssignsID(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := buildWorkflow("user-1")
	workflow.ID = ""

	require.NoError(t, repo.Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)

	_, err := uuid.Parse(workflow.ID)
	require.NoError(t, err)
}

func TestWorkflowRepository_Save_Updates(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := buildWorkflow("user-1")
	require.NoError(t, repo.Save(ctx, workflow))

	workflow.Name = "Order Sync v2"
	workflow.Active = false
	workflow.Nodes = workflow.Nodes[:1]
	require.NoError(t, repo.Save(ctx, workflow))

	found, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Order Sync v2", found.Name)
	assert.False(t, found.Active)
	assert.Len(t, found.Nodes, 1)
}

func TestWorkflowRepository_GetByID_Missing(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	found, err := p.WorkflowRepository().GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestWorkflowRepository_Delete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := buildWorkflow("user-1")
	require.NoError(t, repo.Save(ctx, workflow))

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	found, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Nil(t, found, "soft-deleted workflows should not be readable")

	err = repo.Delete(ctx, workflow.ID)
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_List(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	first := buildWorkflow("alice")
	first.Name = "Alpha"

	second := buildWorkflow("alice")
	second.Name = "Beta"
	second.Active = false

	third := buildWorkflow("bob")
	third.Name = "Gamma"

	for _, w := range []*models.Workflow{first, second, third} {
		require.NoError(t, repo.Save(ctx, w))
	}

	result, err := repo.List(ctx, persistence.ListWorkflowsOptions{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.Len(t, result.Workflows, 2)
	assert.False(t, result.HasNextPage)

	active := true
	result, err = repo.List(ctx, persistence.ListWorkflowsOptions{OwnerID: "alice", Active: &active})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 1)
	assert.Equal(t, "Alpha", result.Workflows[0].Name)

	result, err = repo.List(ctx, persistence.ListWorkflowsOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.Len(t, result.Workflows, 2)
	assert.True(t, result.HasNextPage)

	result, err = repo.List(ctx, persistence.ListWorkflowsOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, result.Workflows, 1)
	assert.False(t, result.HasNextPage)

	result, err = repo.List(ctx, persistence.ListWorkflowsOptions{SortBy: "name", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 3)
	assert.Equal(t, "Alpha", result.Workflows[0].Name)
	assert.Equal(t, "Gamma", result.Workflows[2].Name)

	_, err = repo.List(ctx, persistence.ListWorkflowsOptions{SortBy: "owner_id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sort field")
}

func TestExecutionRepository_SaveAndGetByID(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	workflowID := uuid.NewString()
	execution := buildExecution(workflowID, "user-1", models.ExecutionStatusPending)
	execution.TriggerNodeID = "fetch"
	execution.TriggerData = map[string]any{"order_id": "42"}

	require.NoError(t, repo.Save(ctx, execution))

	found, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, execution.ID, found.ID)
	assert.Equal(t, workflowID, found.WorkflowID)
	assert.Equal(t, "user-1", found.UserID)
	assert.Equal(t, models.ExecutionStatusPending, found.Status)
	assert.Equal(t, models.ExecutionModeWorkflow, found.Mode)
	assert.Equal(t, "fetch", found.TriggerNodeID)
	assert.Equal(t, "42", found.TriggerData["order_id"])
	assert.Empty(t, found.Error)
	assert.Nil(t, found.StartedAt)
	assert.Nil(t, found.FinishedAt)
	assert.WithinDuration(t, execution.CreatedAt, found.CreatedAt, time.Second)

	require.NotNil(t, found.Snapshot)
	require.Len(t, found.Snapshot.Nodes, 1)
	assert.Equal(t, "fetch", found.Snapshot.Nodes[0].ID)
}

func TestExecutionRepository_Save_UpdatesProgress(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	execution := buildExecution(uuid.NewString(), "user-1", models.ExecutionStatusPending)
	require.NoError(t, repo.Save(ctx, execution))

	started := time.Now().UTC().Add(-5 * time.Second)
	finished := time.Now().UTC()
	execution.Status = models.ExecutionStatusError
	execution.Error = "node fetch: connection refused"
	execution.StartedAt = &started
	execution.FinishedAt = &finished
	execution.NodeResults["fetch"] = &models.NodeResult{
		NodeID: "fetch",
		Status: models.NodeStatusError,
		Error:  "connection refused",
	}

	require.NoError(t, repo.Save(ctx, execution))

	found, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, models.ExecutionStatusError, found.Status)
	assert.Equal(t, "node fetch: connection refused", found.Error)
	require.NotNil(t, found.StartedAt)
	require.NotNil(t, found.FinishedAt)
	assert.WithinDuration(t, finished, *found.FinishedAt, time.Second)

	result := found.Result("fetch")
	require.NotNil(t, result)
	assert.Equal(t, models.NodeStatusError, result.Status)
	assert.Equal(t, "connection refused", result.Error)
}

func TestExecutionRepository_GetByID_Missing(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	found, err := p.ExecutionRepository().GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestExecutionRepository_ListAndDelete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	workflowID := uuid.NewString()
	otherWorkflowID := uuid.NewString()

	success := buildExecution(workflowID, "alice", models.ExecutionStatusSuccess)
	failed := buildExecution(workflowID, "alice", models.ExecutionStatusError)
	failed.CreatedAt = success.CreatedAt.Add(time.Second)
	other := buildExecution(otherWorkflowID, "bob", models.ExecutionStatusSuccess)

	for _, e := range []*models.Execution{success, failed, other} {
		require.NoError(t, repo.Save(ctx, e))
	}

	result, err := repo.List(ctx, persistence.ListExecutionsOptions{WorkflowID: workflowID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	require.Len(t, result.Executions, 2)
	assert.Equal(t, failed.ID, result.Executions[0].ID, "newest execution should come first")

	status := models.ExecutionStatusError
	result, err = repo.List(ctx, persistence.ListExecutionsOptions{WorkflowID: workflowID, Status: &status})
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, failed.ID, result.Executions[0].ID)

	result, err = repo.List(ctx, persistence.ListExecutionsOptions{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, other.ID, result.Executions[0].ID)

	require.NoError(t, repo.Delete(ctx, success.ID))

	found, err := repo.GetByID(ctx, success.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	err = repo.Delete(ctx, success.ID)
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_Stats(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	workflowID := uuid.NewString()
	base := time.Now().UTC().Add(-time.Hour)

	fast := buildExecution(workflowID, "alice", models.ExecutionStatusSuccess)
	fastStart := base
	fastEnd := base.Add(2 * time.Second)
	fast.StartedAt = &fastStart
	fast.FinishedAt = &fastEnd

	slow := buildExecution(workflowID, "alice", models.ExecutionStatusError)
	slowStart := base.Add(time.Minute)
	slowEnd := slowStart.Add(6 * time.Second)
	slow.StartedAt = &slowStart
	slow.FinishedAt = &slowEnd
	slow.CreatedAt = fast.CreatedAt.Add(time.Second)

	pending := buildExecution(workflowID, "alice", models.ExecutionStatusPending)
	pending.CreatedAt = fast.CreatedAt.Add(2 * time.Second)

	unrelated := buildExecution(uuid.NewString(), "bob", models.ExecutionStatusSuccess)

	for _, e := range []*models.Execution{fast, slow, pending, unrelated} {
		require.NoError(t, repo.Save(ctx, e))
	}

	stats, err := repo.Stats(ctx, workflowID, "")
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[models.ExecutionStatusSuccess])
	assert.Equal(t, int64(1), stats.ByStatus[models.ExecutionStatusError])
	assert.Equal(t, int64(1), stats.ByStatus[models.ExecutionStatusPending])
	assert.InDelta(t, 4.0, stats.AverageDuration.Seconds(), 0.1)
	require.NotNil(t, stats.LastExecutionAt)
	assert.WithinDuration(t, pending.CreatedAt, *stats.LastExecutionAt, time.Second)

	stats, err = repo.Stats(ctx, "", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)

	stats, err = repo.Stats(ctx, uuid.NewString(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
	assert.Empty(t, stats.ByStatus)
	assert.Zero(t, stats.AverageDuration)
	assert.Nil(t, stats.LastExecutionAt)
}
