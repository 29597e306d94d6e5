package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisflow/trellis/pkg/metrics"
	"github.com/trellisflow/trellis/pkg/models"
)

func newTestServer(t *testing.T) (*harness, http.Handler) {
	t.Helper()

	h := newHarness(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := NewServer(":0", h.dispatcher, metrics.New(prometheus.NewRegistry()), logger)

	return h, server.Handler()
}

func post(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))

	return problem
}

func TestServer_WebhookStartsExecution(t *testing.T) {
	t.Parallel()

	h, handler := newTestServer(t)
	h.saveWorkflow(t, triggeredWorkflow("wf-1", webhookTrigger("t-hook", "n-hook", "hook-1")))
	require.NoError(t, h.dispatcher.Sync(context.Background(), "wf-1"))

	rec := post(t, handler, "/webhooks/hook-1", `{"city":"Porto"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "success", response["status"])
	assert.NotEmpty(t, response["execution_id"])

	calls := h.engine.started()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"city": "Porto"}, calls[0].TriggerData["body"])
}

func TestServer_WebhookTestDryRun(t *testing.T) {
	t.Parallel()

	h, handler := newTestServer(t)
	h.saveWorkflow(t, triggeredWorkflow("wf-1", webhookTrigger("t-hook", "n-hook", "hook-1")))
	require.NoError(t, h.dispatcher.Sync(context.Background(), "wf-1"))

	rec := post(t, handler, "/webhooks/hook-1/test", `{"city":"Porto"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "success", response["status"])
	assert.Empty(t, response["execution_id"])
	assert.Empty(t, h.engine.started())
}

func TestServer_UnknownWebhookIs404Problem(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t)

	rec := post(t, handler, "/webhooks/nope", `{}`)

	require.Equal(t, http.StatusNotFound, rec.Code)

	problem := decodeProblem(t, rec)
	assert.Equal(t, "not_found", problem["type"])
	assert.Equal(t, float64(http.StatusNotFound), problem["status"])
	assert.Contains(t, problem["detail"], "not found")
}

func TestServer_InactiveWorkflowIs401Problem(t *testing.T) {
	t.Parallel()

	h, handler := newTestServer(t)
	workflow := triggeredWorkflow("wf-1", webhookTrigger("t-hook", "n-hook", "hook-1"))
	h.saveWorkflow(t, workflow)
	require.NoError(t, h.dispatcher.Sync(context.Background(), "wf-1"))

	workflow.Active = false
	h.saveWorkflow(t, workflow)

	rec := post(t, handler, "/webhooks/hook-1", `{}`)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	problem := decodeProblem(t, rec)
	assert.Equal(t, "unauthorized", problem["type"])
	assert.Contains(t, problem["detail"], "authentication")
}

func TestServer_SchemaViolationIs400Problem(t *testing.T) {
	t.Parallel()

	h, handler := newTestServer(t)
	trigger := webhookTrigger("t-hook", "n-hook", "hook-1")
	trigger.Settings[models.TriggerSettingPayloadSchema] = map[string]any{
		"type":     "object",
		"required": []any{"city"},
	}
	h.saveWorkflow(t, triggeredWorkflow("wf-1", trigger))
	require.NoError(t, h.dispatcher.Sync(context.Background(), "wf-1"))

	rec := post(t, handler, "/webhooks/hook-1", `{"country":"PT"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	problem := decodeProblem(t, rec)
	assert.Equal(t, "validation", problem["type"])
	assert.Contains(t, problem["detail"], "payload validation failed")
}

func TestServer_AcceptsAnyMethod(t *testing.T) {
	t.Parallel()

	h, handler := newTestServer(t)
	h.saveWorkflow(t, triggeredWorkflow("wf-1", webhookTrigger("t-hook", "n-hook", "hook-1")))
	require.NoError(t, h.dispatcher.Sync(context.Background(), "wf-1"))

	req := httptest.NewRequest(http.MethodGet, "/webhooks/hook-1?ping=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	calls := h.engine.started()
	require.Len(t, calls, 1)
	assert.Equal(t, "GET", calls[0].TriggerData["method"])
	assert.Equal(t, map[string]string{"ping": "1"}, calls[0].TriggerData["query"])
}

func TestServer_RejectsMalformedPaths(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t)

	for _, path := range []string{"/webhooks/", "/webhooks/a/b/c"} {
		rec := post(t, handler, path, `{}`)
		assert.Equal(t, http.StatusNotFound, rec.Code, "path %s", path)
	}
}

func TestServer_RejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	h, handler := newTestServer(t)
	h.saveWorkflow(t, triggeredWorkflow("wf-1", webhookTrigger("t-hook", "n-hook", "hook-1")))
	require.NoError(t, h.dispatcher.Sync(context.Background(), "wf-1"))

	rec := post(t, handler, "/webhooks/hook-1", `{"city":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	problem := decodeProblem(t, rec)
	assert.Equal(t, "invalid_body", problem["type"])
	assert.Empty(t, h.engine.started())
}

func TestServer_RejectsOversizedBody(t *testing.T) {
	t.Parallel()

	h, handler := newTestServer(t)
	h.saveWorkflow(t, triggeredWorkflow("wf-1", webhookTrigger("t-hook", "n-hook", "hook-1")))
	require.NoError(t, h.dispatcher.Sync(context.Background(), "wf-1"))

	body := `{"blob":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	rec := post(t, handler, "/webhooks/hook-1", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.engine.started())
}

func TestServer_EmptyBodyIsAllowed(t *testing.T) {
	t.Parallel()

	h, handler := newTestServer(t)
	h.saveWorkflow(t, triggeredWorkflow("wf-1", webhookTrigger("t-hook", "n-hook", "hook-1")))
	require.NoError(t, h.dispatcher.Sync(context.Background(), "wf-1"))

	rec := post(t, handler, "/webhooks/hook-1", "")

	require.Equal(t, http.StatusOK, rec.Code)

	calls := h.engine.started()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{}, calls[0].TriggerData["body"])
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	h, handler := newTestServer(t)
	h.saveWorkflow(t, triggeredWorkflow("wf-1", webhookTrigger("t-hook", "n-hook", "hook-1")))
	require.NoError(t, h.dispatcher.Sync(context.Background(), "wf-1"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(1), health["registered_hooks"])
}
