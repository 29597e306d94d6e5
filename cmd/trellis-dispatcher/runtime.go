// Package main provides the trellis dispatcher: the runtime trigger
// plane hosting the webhook HTTP surface and the cron schedule runner,
// kept in sync with stored workflows through bus events and a periodic
// reconciliation sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trellisflow/trellis/pkg/dispatcher"
	"github.com/trellisflow/trellis/pkg/eventbus"
	"github.com/trellisflow/trellis/pkg/events"
	"github.com/trellisflow/trellis/pkg/metrics"
	"github.com/trellisflow/trellis/pkg/orchestrator"
	"github.com/trellisflow/trellis/pkg/persistence"
	"github.com/trellisflow/trellis/pkg/registry"
)

const shutdownTimeout = 10 * time.Second

type Runtime struct {
	logger        *slog.Logger
	eventBus      eventbus.EventBus
	engine        *orchestrator.Engine
	dispatcher    *dispatcher.Dispatcher
	webhookServer *dispatcher.Server
	promRegistry  *prometheus.Registry
	metricsPort   int
}

// NewRuntime wires the dispatcher process: webhook firings and
// schedule jobs start executions on the embedded engine.
func NewRuntime(
	logger *slog.Logger,
	store persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
	webhookPort, metricsPort int,
) *Runtime {
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)
	publisher := events.NewPublisher(eventBus, logger, m)
	engine := orchestrator.NewEngine(store, reg, publisher, m, logger)
	schedules := dispatcher.NewScheduleManager(engine, logger)
	disp := dispatcher.NewDispatcher(store, engine, schedules, m, logger)

	return &Runtime{
		logger:        logger,
		eventBus:      eventBus,
		engine:        engine,
		dispatcher:    disp,
		webhookServer: dispatcher.NewServer(fmt.Sprintf(":%d", webhookPort), disp, m, logger),
		promRegistry:  promRegistry,
		metricsPort:   metricsPort,
	}
}

// Start runs the dispatcher until ctx is cancelled, then drains
// in-flight scheduled jobs.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.dispatcher.ConsumeWorkflowChanges(r.eventBus); err != nil {
		return err
	}

	if err := r.engine.ConsumeCancelRequests(r.eventBus); err != nil {
		return err
	}

	if err := r.eventBus.Subscribe(ctx, events.WorkflowsTopic, events.ControlTopic); err != nil {
		return err
	}

	if err := r.dispatcher.Start(ctx); err != nil {
		return err
	}

	if err := r.webhookServer.Start(ctx); err != nil {
		return err
	}

	go r.serveMetrics(ctx)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return r.dispatcher.Stop(shutdownCtx)
}

func (r *Runtime) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(r.promRegistry))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.metricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("Error during metrics server shutdown", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.logger.Error("Metrics server error", "error", err)
	}
}
