package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trellisflow/trellis/pkg/auth"
)

const serverShutdownTimeout = 5 * time.Second

// Server upgrades authenticated HTTP requests to WebSocket clients.
// Connections without a valid token are rejected before the upgrade,
// so an unauthenticated peer never reaches the hub.
type Server struct {
	server   *http.Server
	addr     string
	hub      *Hub
	tokens   *auth.TokenService
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	started bool
}

func NewServer(addr string, hub *Hub, tokens *auth.TokenService, logger *slog.Logger) *Server {
	return &Server{
		addr:   addr,
		hub:    hub,
		tokens: tokens,
		logger: logger.With("module", "gateway_server", "addr", addr),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin dashboards authenticate with the token, not
			// the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routing handler, for tests that dial through
// httptest instead of a listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleConnect)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// Start begins serving connections and shuts down when the context is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.started = true
	s.logger.Info("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Gateway server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()

		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error("Error during gateway server shutdown", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping gateway server")

	shutdownCtx, cancel := context.WithTimeout(ctx, serverShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.started = false

	return nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	token := handshakeToken(r)
	if token == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)

		return
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		s.logger.Warn("Rejected connection with invalid token", "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid token", http.StatusUnauthorized)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)

		return
	}

	client := newClient(s.hub, conn, userID, s.logger)
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	err := json.NewEncoder(w).Encode(map[string]any{
		"status":      "healthy",
		"connections": s.hub.ConnectionCount(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("Error encoding health response", "error", err)
	}
}

// handshakeToken reads the token from the query string or, for clients
// that can set headers, from Authorization: Bearer.
func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}

	return ""
}
