// Package main provides the trellis API server: workflow and
// execution management over HTTP with an embedded execution engine.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trellisflow/trellis/pkg/eventbus"
	"github.com/trellisflow/trellis/pkg/events"
	"github.com/trellisflow/trellis/pkg/metrics"
	"github.com/trellisflow/trellis/pkg/orchestrator"
	"github.com/trellisflow/trellis/pkg/persistence"
	"github.com/trellisflow/trellis/pkg/registry"
	"github.com/trellisflow/trellis/pkg/services"
	"github.com/trellisflow/trellis/pkg/web"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger       *slog.Logger
	eventBus     eventbus.EventBus
	engine       *orchestrator.Engine
	handlers     *web.APIHandlers
	promRegistry *prometheus.Registry
}

// NewAPI wires the full API stack: engine, services, and handlers
// share one publisher and one metrics registry.
func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)
	publisher := events.NewPublisher(eventBus, logger, m)
	engine := orchestrator.NewEngine(store, reg, publisher, m, logger)

	workflows := services.NewWorkflowService(store, reg, publisher, logger)
	executions := services.NewExecutionService(store, engine, publisher, logger)

	return &API{
		logger:       logger,
		eventBus:     eventBus,
		engine:       engine,
		handlers:     web.NewAPIHandlers(workflows, executions, reg),
		promRegistry: promRegistry,
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(a.promRegistry)))

	a.handlers.RegisterRoutes(app)

	return app
}

// Start serves the API until ctx is cancelled. Cancel requests for
// executions running in this process arrive over the control topic.
func (a *API) Start(ctx context.Context, port int) error {
	if err := a.engine.ConsumeCancelRequests(a.eventBus); err != nil {
		return err
	}

	if err := a.eventBus.Subscribe(ctx, events.ControlTopic); err != nil {
		return err
	}

	app := a.App()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			a.logger.Error("Error during API server shutdown", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
