package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisflow/trellis/pkg/events"
	"github.com/trellisflow/trellis/pkg/metrics"
	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/orchestrator"
	"github.com/trellisflow/trellis/pkg/persistence"
	"github.com/trellisflow/trellis/pkg/persistence/file"
	"github.com/trellisflow/trellis/pkg/registry"
	"github.com/trellisflow/trellis/pkg/services"
	"github.com/trellisflow/trellis/pkg/web"
)

type dropBus struct{}

func (dropBus) Publish(context.Context, string, string, events.Event) error { return nil }

type apiStack struct {
	app   *fiber.App
	store persistence.Persistence
}

func newTestApp(t *testing.T) *apiStack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterNativeDefinitions()

	m := metrics.New(prometheus.NewRegistry())
	publisher := events.NewPublisher(dropBus{}, logger, m)

	engine := orchestrator.NewEngine(store, reg, publisher, m, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = engine.Shutdown(ctx)
	})

	handlers := web.NewAPIHandlers(
		services.NewWorkflowService(store, reg, publisher, logger),
		services.NewExecutionService(store, engine, publisher, logger),
		reg,
	)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return &apiStack{app: app, store: store}
}

// request performs one API call as the given user. A string body is
// sent raw; anything else is marshalled to JSON.
func (s *apiStack) request(t *testing.T, method, target, userID string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	switch payload := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(payload)
	default:
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	if userID != "" {
		req.Header.Set(web.UserHeader, userID)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func webhookNode(id string) *models.Node {
	return &models.Node{ID: id, Type: models.NodeTypeTriggerWebhook, Name: "Hook"}
}

func logNode(id string) *models.Node {
	return &models.Node{
		ID:         id,
		Type:       "log",
		Name:       "Log",
		Parameters: map[string]any{"message": "hello"},
	}
}

func validCreateBody(name string) web.CreateWorkflowRequest {
	active := true

	return web.CreateWorkflowRequest{
		Name:   name,
		Active: &active,
		Nodes:  []*models.Node{webhookNode("n-hook"), logNode("n-log")},
		Connections: []*models.Connection{
			{ID: "c-1", SourceNodeID: "n-hook", TargetNodeID: "n-log"},
		},
	}
}

func storedExecution(id, workflowID, userID string, status models.ExecutionStatus) *models.Execution {
	return &models.Execution{
		ID:          id,
		WorkflowID:  workflowID,
		UserID:      userID,
		Status:      status,
		Mode:        models.ExecutionModeWorkflow,
		TriggerData: map[string]any{"city": "Lisbon"},
		NodeResults: map[string]*models.NodeResult{},
		Snapshot:    &models.GraphSnapshot{Nodes: []*models.Node{logNode("n-log")}},
		CreatedAt:   time.Now().UTC(),
	}
}

func TestAPI_IdentityRequired(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)

	resp := s.request(t, http.MethodGet, "/workflows", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var problem map[string]any
	decodeJSON(t, resp, &problem)
	assert.Equal(t, "authentication_error", problem["type"])

	// Probes hit the health endpoint without credentials.
	resp = s.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_ = resp.Body.Close()
}

func TestAPI_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		check          func(t *testing.T, resp *http.Response)
	}{
		{
			name:           "valid graph is persisted with derived triggers",
			body:           validCreateBody("Order Sync"),
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, resp *http.Response) {
				t.Helper()

				var result web.SaveWorkflowResponse
				decodeJSON(t, resp, &result)

				assert.NotEmpty(t, result.Workflow.ID)
				assert.Equal(t, "Order Sync", result.Workflow.Name)
				assert.Equal(t, "user-1", result.Workflow.OwnerID)
				assert.Empty(t, result.Warnings)

				require.Len(t, result.Workflow.Triggers, 1)
				assert.Equal(t, models.TriggerTypeWebhook, result.Workflow.Triggers[0].Type)
			},
		},
		{
			name: "invalid graph reports every violation",
			body: web.CreateWorkflowRequest{
				Name: "Broken",
				Nodes: []*models.Node{
					logNode("n-1"),
					logNode("n-1"),
					{ID: "n-2", Type: "alien"},
				},
			},
			expectedStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, resp *http.Response) {
				t.Helper()

				var problem struct {
					Type   string   `json:"type"`
					Errors []string `json:"errors"`
				}
				decodeJSON(t, resp, &problem)

				assert.Equal(t, "validation_error", problem.Type)
				assert.Contains(t, problem.Errors, "Duplicate node ID: n-1")
				assert.Contains(t, problem.Errors, "Node 'n-2' has unknown type 'alien'")
			},
		},
		{
			name: "short name is a validation failure, not a bad request",
			body: web.CreateWorkflowRequest{
				Name:  "ab",
				Nodes: []*models.Node{logNode("n-1")},
			},
			expectedStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, resp *http.Response) {
				t.Helper()

				var problem struct {
					Errors []string `json:"errors"`
				}
				decodeJSON(t, resp, &problem)

				assert.Contains(t, problem.Errors, "workflow: field 'name' must be at least 3 characters")
			},
		},
		{
			name:           "malformed json",
			body:           "{not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestApp(t)

			resp := s.request(t, http.MethodPost, "/workflows", "user-1", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.check != nil {
				tt.check(t, resp)
			} else {
				_ = resp.Body.Close()
			}
		})
	}
}

func TestAPI_WorkflowLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)

	resp := s.request(t, http.MethodPost, "/workflows", "user-1", validCreateBody("Lifecycle"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created web.SaveWorkflowResponse
	decodeJSON(t, resp, &created)
	id := created.Workflow.ID

	resp = s.request(t, http.MethodGet, "/workflows/"+id, "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Workflow
	decodeJSON(t, resp, &fetched)
	assert.Equal(t, "Lifecycle", fetched.Name)
	assert.Len(t, fetched.Nodes, 2)

	rename := "Lifecycle v2"
	resp = s.request(t, http.MethodPut, "/workflows/"+id, "user-1", web.UpdateWorkflowRequest{Name: &rename})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated web.SaveWorkflowResponse
	decodeJSON(t, resp, &updated)
	assert.Equal(t, "Lifecycle v2", updated.Workflow.Name)
	assert.Len(t, updated.Workflow.Nodes, 2, "rename must keep the stored graph")

	resp = s.request(t, http.MethodGet, "/workflows?active=true", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Workflows   []*models.Workflow `json:"workflows"`
		TotalCount  int64              `json:"total_count"`
		HasNextPage bool               `json:"has_next_page"`
	}
	decodeJSON(t, resp, &page)
	assert.Equal(t, int64(1), page.TotalCount)

	resp = s.request(t, http.MethodDelete, "/workflows/"+id, "user-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = s.request(t, http.MethodGet, "/workflows/"+id, "user-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_ExplicitTriggers(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)

	scheduleNode := &models.Node{
		ID:         "n-cron",
		Type:       models.NodeTypeTriggerSchedule,
		Name:       "Nightly",
		Parameters: map[string]any{"expression": "0 6 * * *"},
	}

	resp := s.request(t, http.MethodPost, "/workflows", "user-1", web.CreateWorkflowRequest{
		Name:  "Scheduled Sync",
		Nodes: []*models.Node{scheduleNode, logNode("n-log")},
		Connections: []*models.Connection{
			{ID: "c-1", SourceNodeID: "n-cron", TargetNodeID: "n-log"},
		},
		Triggers: []web.TriggerPayload{{
			Type:     models.TriggerTypeSchedule,
			NodeID:   "n-cron",
			Settings: map[string]any{"expression": "0 6 * * *"},
		}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created web.SaveWorkflowResponse
	decodeJSON(t, resp, &created)

	require.Len(t, created.Workflow.Triggers, 1)
	trigger := created.Workflow.Triggers[0]
	assert.Equal(t, "trigger-n-cron", trigger.ID, "ID defaults from the node")
	assert.True(t, trigger.Active, "active defaults to true")
	assert.Equal(t, "0 6 * * *", trigger.Settings["expression"])
	assert.Equal(t, "UTC", trigger.Settings["timezone"])

	// Rename only: the stored trigger set stays untouched.
	rename := "Scheduled Sync v2"
	resp = s.request(t, http.MethodPut, "/workflows/"+created.Workflow.ID, "user-1", web.UpdateWorkflowRequest{Name: &rename})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated web.SaveWorkflowResponse
	decodeJSON(t, resp, &updated)
	require.Len(t, updated.Workflow.Triggers, 1)
	assert.Equal(t, "trigger-n-cron", updated.Workflow.Triggers[0].ID)

	resp = s.request(t, http.MethodPost, "/workflows", "user-1", web.CreateWorkflowRequest{
		Name:  "Broken Schedule",
		Nodes: []*models.Node{scheduleNode},
		Triggers: []web.TriggerPayload{{
			Type:     models.TriggerTypeSchedule,
			NodeID:   "n-cron",
			Settings: map[string]any{"expression": "whenever"},
		}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var problem map[string]any
	decodeJSON(t, resp, &problem)
	assert.Contains(t, problem["detail"], "invalid cron expression")
}

func TestAPI_ForeignWorkflowIsAnAuthenticationError(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)

	resp := s.request(t, http.MethodPost, "/workflows", "user-1", validCreateBody("Private"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created web.SaveWorkflowResponse
	decodeJSON(t, resp, &created)
	id := created.Workflow.ID

	tests := []struct {
		name   string
		method string
		target string
		body   any
	}{
		{"get", http.MethodGet, "/workflows/" + id, nil},
		{"update", http.MethodPut, "/workflows/" + id, web.UpdateWorkflowRequest{}},
		{"delete", http.MethodDelete, "/workflows/" + id, nil},
		{"validate", http.MethodPost, "/workflows/" + id + "/validate", nil},
		{"run", http.MethodPost, "/workflows/" + id + "/run", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.request(t, tt.method, tt.target, "user-2", tt.body)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var problem map[string]any
			decodeJSON(t, resp, &problem)
			assert.Contains(t, problem["detail"], "authentication")
		})
	}
}

func TestAPI_ValidateWorkflow(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)
	ctx := context.Background()

	// Saved through the repository directly: the API would have
	// rejected this graph, but /validate must still report on it.
	broken := &models.Workflow{
		ID:      "wf-broken",
		Name:    "Broken On Disk",
		OwnerID: "user-1",
		Nodes:   []*models.Node{logNode("a"), logNode("b")},
		Connections: []*models.Connection{
			{ID: "c-1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "c-2", SourceNodeID: "b", TargetNodeID: "a"},
		},
	}
	require.NoError(t, s.store.WorkflowRepository().Save(ctx, broken))

	resp := s.request(t, http.MethodPost, "/workflows/wf-broken/validate", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}
	decodeJSON(t, resp, &result)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "Workflow contains circular dependencies")

	stored, err := s.store.WorkflowRepository().GetByID(ctx, "wf-broken")
	require.NoError(t, err)
	assert.Equal(t, "Broken On Disk", stored.Name, "validation must not write anything")
}

func TestAPI_RunWorkflow(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)

	resp := s.request(t, http.MethodPost, "/workflows", "user-1", validCreateBody("Runnable"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created web.SaveWorkflowResponse
	decodeJSON(t, resp, &created)

	resp = s.request(t, http.MethodPost, "/workflows/"+created.Workflow.ID+"/run", "user-1", web.RunWorkflowRequest{
		TriggerNodeID: "n-hook",
		TriggerData:   map[string]any{"city": "Lisbon"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started web.StartExecutionResponse
	decodeJSON(t, resp, &started)
	assert.NotEmpty(t, started.ExecutionID)

	// The acknowledgement precedes completion; the run settles in the
	// background.
	require.Eventually(t, func() bool {
		execution, err := s.store.ExecutionRepository().GetByID(context.Background(), started.ExecutionID)

		return err == nil && execution != nil && execution.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	resp = s.request(t, http.MethodGet, "/executions/"+started.ExecutionID, "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execution models.Execution
	decodeJSON(t, resp, &execution)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)

	resp = s.request(t, http.MethodPost, "/workflows/wf-ghost/run", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_RunWorkflowNode(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)

	resp := s.request(t, http.MethodPost, "/workflows", "user-1", validCreateBody("Editable"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created web.SaveWorkflowResponse
	decodeJSON(t, resp, &created)
	id := created.Workflow.ID

	resp = s.request(t, http.MethodPost, "/workflows/"+id+"/nodes/n-log/run", "user-1", web.RunNodeRequest{
		Mode:  "single",
		Input: map[string]any{"payload": "x"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started web.StartExecutionResponse
	decodeJSON(t, resp, &started)
	assert.NotEmpty(t, started.ExecutionID)

	// Unsaved graphs run through the override; nothing has to exist in
	// storage first.
	resp = s.request(t, http.MethodPost, "/workflows/wf-unsaved/nodes/n-draft/run", "user-1", web.RunNodeRequest{
		WorkflowData: &models.GraphSnapshot{Nodes: []*models.Node{logNode("n-draft")}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	resp = s.request(t, http.MethodPost, "/workflows/"+id+"/nodes/n-log/run", "user-1", web.RunNodeRequest{
		Mode: "turbo",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var problem map[string]any
	decodeJSON(t, resp, &problem)
	assert.Contains(t, problem["detail"], "invalid mode")
}

func TestAPI_ListExecutions(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)
	ctx := context.Background()
	repo := s.store.ExecutionRepository()

	require.NoError(t, repo.Save(ctx, storedExecution("exec-1", "wf-1", "user-1", models.ExecutionStatusError)))
	require.NoError(t, repo.Save(ctx, storedExecution("exec-2", "wf-1", "user-1", models.ExecutionStatusSuccess)))
	require.NoError(t, repo.Save(ctx, storedExecution("exec-3", "wf-2", "user-2", models.ExecutionStatusPending)))

	resp := s.request(t, http.MethodGet, "/executions", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Executions []*models.Execution `json:"executions"`
		TotalCount int64               `json:"total_count"`
	}
	decodeJSON(t, resp, &page)
	assert.Equal(t, int64(2), page.TotalCount, "listing is owner-scoped")

	resp = s.request(t, http.MethodGet, "/executions?status=error", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page.Executions = nil
	decodeJSON(t, resp, &page)
	require.Len(t, page.Executions, 1)
	assert.Equal(t, "exec-1", page.Executions[0].ID)

	resp = s.request(t, http.MethodGet, "/executions?status=paused", "user-1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_ = resp.Body.Close()

	resp = s.request(t, http.MethodGet, "/executions/exec-3", "user-1", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_CancelPendingExecution(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, s.store.ExecutionRepository().Save(ctx,
		storedExecution("exec-1", "wf-1", "user-1", models.ExecutionStatusPending)))

	resp := s.request(t, http.MethodPost, "/executions/exec-1/cancel", "user-1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var execution models.Execution
	decodeJSON(t, resp, &execution)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.NotNil(t, execution.FinishedAt)

	resp = s.request(t, http.MethodPost, "/executions/exec-1/cancel", "user-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "cancelled is terminal")
	_ = resp.Body.Close()
}

func TestAPI_RetryExecution(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)
	ctx := context.Background()
	repo := s.store.ExecutionRepository()

	failed := storedExecution("exec-1", "wf-1", "user-1", models.ExecutionStatusError)
	require.NoError(t, repo.Save(ctx, failed))

	resp := s.request(t, http.MethodPost, "/executions/exec-1/retry", "user-1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started web.StartExecutionResponse
	decodeJSON(t, resp, &started)
	assert.NotEmpty(t, started.ExecutionID)
	assert.NotEqual(t, "exec-1", started.ExecutionID, "retry creates a fresh execution")

	require.Eventually(t, func() bool {
		execution, err := repo.GetByID(context.Background(), started.ExecutionID)

		return err == nil && execution != nil && execution.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	original, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusError, original.Status, "the original record is history")

	resp = s.request(t, http.MethodPost, "/executions/"+started.ExecutionID+"/retry", "user-1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("retrying a successful execution: got status %d, want 409", resp.StatusCode)
	}

	_ = resp.Body.Close()
}

func TestAPI_DeleteExecution(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)
	ctx := context.Background()
	repo := s.store.ExecutionRepository()

	require.NoError(t, repo.Save(ctx, storedExecution("exec-live", "wf-1", "user-1", models.ExecutionStatusRunning)))
	require.NoError(t, repo.Save(ctx, storedExecution("exec-done", "wf-1", "user-1", models.ExecutionStatusSuccess)))

	resp := s.request(t, http.MethodDelete, "/executions/exec-live", "user-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = s.request(t, http.MethodDelete, "/executions/exec-done", "user-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = s.request(t, http.MethodGet, "/executions/exec-done", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_ExecutionStats(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)
	ctx := context.Background()
	repo := s.store.ExecutionRepository()

	require.NoError(t, repo.Save(ctx, storedExecution("exec-1", "wf-1", "user-1", models.ExecutionStatusSuccess)))
	require.NoError(t, repo.Save(ctx, storedExecution("exec-2", "wf-1", "user-1", models.ExecutionStatusError)))
	require.NoError(t, repo.Save(ctx, storedExecution("exec-3", "wf-2", "user-2", models.ExecutionStatusSuccess)))

	resp := s.request(t, http.MethodGet, "/executions/stats?workflowId=wf-1", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats persistence.ExecutionStats
	decodeJSON(t, resp, &stats)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[models.ExecutionStatusSuccess])
	assert.Equal(t, int64(1), stats.ByStatus[models.ExecutionStatusError])
	require.NotNil(t, stats.LastExecutionAt)
}

func TestAPI_HealthCheck(t *testing.T) {
	t.Parallel()

	s := newTestApp(t)

	resp := s.request(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status   string            `json:"status"`
		Checkers map[string]string `json:"checkers"`
	}
	decodeJSON(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Checkers, "registry")
	assert.Contains(t, health.Checkers, "repository")
}
