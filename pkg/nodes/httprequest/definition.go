// Package httprequest provides the HTTP request node definition.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trellisflow/trellis/pkg/protocol"
)

// Definition implements the "httprequest" node type.
type Definition struct{}

// NewDefinition creates the HTTP request node definition.
func NewDefinition() *Definition {
	return &Definition{}
}

// Type returns the node type identifier.
func (d *Definition) Type() string {
	return "httprequest"
}

// Name returns the human-readable node type name.
func (d *Definition) Name() string {
	return "HTTP Request"
}

// Description returns what the node does.
func (d *Definition) Description() string {
	return "Performs an HTTP request with retry support and emits the response"
}

type config struct {
	URL      string
	Method   string
	Headers  map[string]string
	Body     string
	Timeout  time.Duration
	Attempts int
	Delay    time.Duration
}

func parseConfig(parameters map[string]any) (config, error) {
	cfg := config{
		Method:   http.MethodGet,
		Headers:  make(map[string]string),
		Timeout:  30 * time.Second,
		Attempts: 1,
		Delay:    time.Second,
	}

	url, ok := parameters["url"].(string)
	if !ok || url == "" {
		return cfg, errors.New("missing required field 'url'")
	}

	cfg.URL = url

	if method, ok := parameters["method"].(string); ok {
		cfg.Method = strings.ToUpper(method)
	}

	if headers, ok := parameters["headers"].(map[string]any); ok {
		for key, value := range headers {
			if str, ok := value.(string); ok {
				cfg.Headers[key] = str
			}
		}
	}

	if body, ok := parameters["body"].(string); ok {
		cfg.Body = body
	}

	if timeout, ok := parameters["timeout"].(float64); ok {
		cfg.Timeout = time.Duration(timeout) * time.Second
	}

	if retries, ok := parameters["retries"].(map[string]any); ok {
		if attempts, ok := retries["attempts"].(float64); ok && attempts >= 1 {
			cfg.Attempts = int(attempts)
		}

		if delay, ok := retries["delay"].(float64); ok && delay >= 0 {
			cfg.Delay = time.Duration(delay) * time.Millisecond
		}
	}

	return cfg, nil
}

// Execute performs the request, retrying network errors and 5xx
// responses. Client errors fail immediately: retrying them would not
// change the outcome.
func (d *Definition) Execute(ctx context.Context, input protocol.ExecutionInput) (protocol.Output, error) {
	cfg, err := parseConfig(input.Node.Parameters)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: cfg.Timeout}

	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.Delay):
			}
		}

		data, err := d.perform(ctx, client, cfg)
		if err == nil {
			return protocol.MainOutput(data), nil
		}

		lastErr = err

		statusErr := &StatusError{}
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			break
		}
	}

	return nil, fmt.Errorf("http request failed: %w", lastErr)
}

func (d *Definition) perform(ctx context.Context, client *http.Client, cfg config) (map[string]any, error) {
	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	if cfg.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	data := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     resp.Header,
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		data["json"] = jsonBody
	}

	return data, nil
}

// StatusError is an HTTP response with a failure status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Schema returns the JSON schema for the node parameters.
func (d *Definition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to request",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to send",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Request timeout in seconds",
				"default":     30,
				"minimum":     1,
				"maximum":     300,
			},
			"retries": map[string]any{
				"type":        "object",
				"description": "Retry behavior for network errors and 5xx responses",
				"properties": map[string]any{
					"attempts": map[string]any{
						"type":        "number",
						"description": "Total attempts including the first request",
						"default":     1,
						"minimum":     1,
						"maximum":     10,
					},
					"delay": map[string]any{
						"type":        "number",
						"description": "Delay between attempts in milliseconds",
						"default":     1000,
						"minimum":     0,
						"maximum":     30000,
					},
				},
			},
		},
		"required": []string{"url"},
	}
}
