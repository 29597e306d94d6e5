package httprequest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/protocol"
)

func inputFor(parameters map[string]any) protocol.ExecutionInput {
	return protocol.ExecutionInput{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Node: &models.Node{
			ID:         "request",
			Type:       "httprequest",
			Parameters: parameters,
		},
	}
}

func TestExecute_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "success"}`))
	}))
	defer server.Close()

	output, err := NewDefinition().Execute(context.Background(), inputFor(map[string]any{
		"url": server.URL,
	}))
	require.NoError(t, err)

	data := output[models.DefaultPort]
	require.NotNil(t, data)
	assert.Equal(t, http.StatusOK, data["status_code"])
	assert.Equal(t, `{"message": "success"}`, data["body"])

	jsonBody, ok := data["json"].(map[string]any)
	require.True(t, ok, "JSON responses should be parsed")
	assert.Equal(t, "success", jsonBody["message"])
}

func TestExecute_SendsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	var (
		gotMethod      string
		gotBody        string
		gotContentType string
		gotHeader      string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotHeader = r.Header.Get("X-Api-Key")

		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	output, err := NewDefinition().Execute(context.Background(), inputFor(map[string]any{
		"url":    server.URL,
		"method": "post",
		"body":   `{"name":"trellis"}`,
		"headers": map[string]any{
			"X-Api-Key": "secret",
		},
	}))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"name":"trellis"}`, gotBody)
	assert.Equal(t, "application/json", gotContentType, "Content-Type should default when a body is present")
	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, http.StatusCreated, output[models.DefaultPort]["status_code"])
}

func TestExecute_ClientErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewDefinition().Execute(context.Background(), inputFor(map[string]any{
		"url":     server.URL,
		"retries": map[string]any{"attempts": float64(3), "delay": float64(0)},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	output, err := NewDefinition().Execute(context.Background(), inputFor(map[string]any{
		"url":     server.URL,
		"retries": map[string]any{"attempts": float64(2), "delay": float64(0)},
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, output[models.DefaultPort]["status_code"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_ExhaustedAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewDefinition().Execute(context.Background(), inputFor(map[string]any{
		"url":     server.URL,
		"retries": map[string]any{"attempts": float64(3), "delay": float64(0)},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http request failed")
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecute_MissingURL(t *testing.T) {
	t.Parallel()

	_, err := NewDefinition().Execute(context.Background(), inputFor(map[string]any{
		"method": "GET",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field 'url'")
}

func TestParseConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(map[string]any{"url": "https://example.com"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, cfg.Method)
	assert.Equal(t, 1, cfg.Attempts)
	assert.Equal(t, float64(30), cfg.Timeout.Seconds())
}
