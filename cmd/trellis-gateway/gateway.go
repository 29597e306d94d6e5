// Package main provides the trellis gateway: the realtime WebSocket
// fan-out of execution lifecycle events to subscribed clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trellisflow/trellis/pkg/auth"
	"github.com/trellisflow/trellis/pkg/eventbus"
	"github.com/trellisflow/trellis/pkg/events"
	"github.com/trellisflow/trellis/pkg/gateway"
	"github.com/trellisflow/trellis/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

type Gateway struct {
	logger       *slog.Logger
	eventBus     eventbus.EventBus
	hub          *gateway.Hub
	server       *gateway.Server
	promRegistry *prometheus.Registry
	metricsPort  int
}

// NewGateway wires the gateway process: one hub consumes the
// execution topic and fans out to authenticated connections.
func NewGateway(
	logger *slog.Logger,
	eventBus eventbus.EventBus,
	tokens *auth.TokenService,
	port, metricsPort int,
) *Gateway {
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)
	hub := gateway.NewHub(m, logger)

	return &Gateway{
		logger:       logger,
		eventBus:     eventBus,
		hub:          hub,
		server:       gateway.NewServer(fmt.Sprintf(":%d", port), hub, tokens, logger),
		promRegistry: promRegistry,
		metricsPort:  metricsPort,
	}
}

// Start serves connections until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.hub.ConsumeExecutionEvents(g.eventBus); err != nil {
		return err
	}

	if err := g.eventBus.Subscribe(ctx, events.ExecutionsTopic); err != nil {
		return err
	}

	if err := g.server.Start(ctx); err != nil {
		return err
	}

	go g.serveMetrics(ctx)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return g.server.Stop(shutdownCtx)
}

func (g *Gateway) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g.promRegistry))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", g.metricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			g.logger.Error("Error during metrics server shutdown", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		g.logger.Error("Metrics server error", "error", err)
	}
}
