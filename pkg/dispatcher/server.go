package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/moogar0880/problems"

	"github.com/trellisflow/trellis/pkg/metrics"
	"github.com/trellisflow/trellis/pkg/services"
)

const (
	serverReadTimeout     = 30 * time.Second
	serverWriteTimeout    = 30 * time.Second
	serverIdleTimeout     = 60 * time.Second
	serverShutdownTimeout = 5 * time.Second
	maxRequestBodySize    = 1024 * 1024 // 1MB max request body
)

// TriggerHandler resolves inbound webhook calls. Satisfied by
// *Dispatcher.
type TriggerHandler interface {
	HandleWebhook(ctx context.Context, webhookID string, req WebhookRequest) TriggerResult
	TestWebhook(ctx context.Context, webhookID string, req WebhookRequest) TriggerResult
	WebhookCount() int
}

// Server is the public HTTP entry point for webhook triggers. It
// exposes /webhooks/{id} and /webhooks/{id}/test under any method,
// plus a health endpoint.
type Server struct {
	server  *http.Server
	addr    string
	handler TriggerHandler
	metrics *metrics.Metrics
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
}

func NewServer(addr string, handler TriggerHandler, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		metrics: m,
		logger:  logger.With("module", "webhook_server", "addr", addr),
	}
}

// Handler returns the routing handler, for tests that drive the server
// through httptest instead of a listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// Start begins serving webhook requests and shuts down when the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	s.started = true
	s.logger.Info("Starting webhook server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Webhook server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()

		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error("Error during webhook server shutdown", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the webhook server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping webhook server")

	shutdownCtx, cancel := context.WithTimeout(ctx, serverShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.started = false

	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/webhooks/")

	test := strings.HasSuffix(path, "/test")
	webhookID := strings.TrimSuffix(path, "/test")

	if webhookID == "" || strings.Contains(webhookID, "/") {
		s.writeProblem(w, r, http.StatusNotFound, "not_found", "webhook not found")

		return
	}

	// Any method is accepted; external callers use whatever verb their
	// integration sends, and the method travels in the trigger data.
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeProblem(w, r, http.StatusBadRequest, "invalid_body", "error reading request body")

		return
	}

	body := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			s.writeProblem(w, r, http.StatusBadRequest, "invalid_body", "invalid JSON in request body")

			return
		}
	}

	req := WebhookRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      extractQueryParams(r),
		Headers:    extractHeaders(r),
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}

	var result TriggerResult
	if test {
		result = s.handler.TestWebhook(r.Context(), webhookID, req)
	} else {
		result = s.handler.HandleWebhook(r.Context(), webhookID, req)
	}

	if result.Err != nil {
		s.logger.Warn("Webhook request rejected",
			"webhook_id", webhookID,
			"kind", string(result.Err.Kind),
			"remote_addr", r.RemoteAddr)
		s.writeProblem(w, r, webhookStatus(result.Err.Kind), string(result.Err.Kind), result.Err.Message)

		return
	}

	response := map[string]string{"status": "success"}
	if test {
		response["message"] = "webhook validated, no execution started"
	} else {
		response["execution_id"] = result.ExecutionID
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"registered_hooks": s.handler.WebhookCount(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

// webhookStatus maps service error kinds onto the webhook surface.
// Unlike the management API, anything that is not a missing webhook or
// an authentication failure reads as a bad request here.
func webhookStatus(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) writeProblem(w http.ResponseWriter, r *http.Request, status int, typ, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(typ).
		WithDetail(detail)

	w.Header().Set("Content-Type", problems.ProblemMediaType)
	w.WriteHeader(status)
	s.metrics.WebhookRequest(status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		s.logger.Error("Error encoding problem response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	s.metrics.WebhookRequest(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

func extractHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string)

	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = strings.Join(values, ", ")
		}
	}

	return headers
}

func extractQueryParams(r *http.Request) map[string]string {
	params := make(map[string]string)

	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			params[name] = values[0]
		}
	}

	return params
}
