// Package web serves the workflow and execution REST API. Caller
// identity is consumed from a header injected by the fronting auth
// layer; failures render as RFC 7807 problems.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/registry"
	"github.com/trellisflow/trellis/pkg/services"
)

// UserHeader carries the caller identity. Authentication itself
// happens upstream; the API only consumes its result.
const UserHeader = "X-User-ID"

// RequireUser rejects requests without a caller identity before any
// handler runs.
func RequireUser() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get(UserHeader)
		if id == "" {
			return unauthorized(c, "authentication required: missing "+UserHeader+" header")
		}

		c.Locals("user_id", id)

		return c.Next()
	}
}

func userID(c fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)

	return id
}

type APIHandlers struct {
	workflows  *services.WorkflowService
	executions *services.ExecutionService
	registry   *registry.Registry
}

func NewAPIHandlers(
	workflows *services.WorkflowService,
	executions *services.ExecutionService,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflows:  workflows,
		executions: executions,
		registry:   registry,
	}
}

// RegisterRoutes mounts the API surface. Every route except the health
// endpoint requires a caller identity.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	api := app.Group("/", RequireUser())

	w := api.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/validate", h.ValidateWorkflow)
	w.Post("/:id/run", h.RunWorkflow)
	w.Post("/:id/nodes/:nodeId/run", h.RunWorkflowNode)

	e := api.Group("/executions")
	e.Get("/", h.GetExecutions)
	// Registered ahead of :id so "stats" never resolves as one.
	e.Get("/stats", h.GetExecutionStats)
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)
	e.Post("/:id/retry", h.RetryExecution)
	e.Delete("/:id", h.DeleteExecution)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.workflows.Create(c.Context(), userID(c), req.saveInput())
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SaveWorkflowResponse{
		Workflow: result.Workflow,
		Warnings: result.Warnings,
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflows.List(c.Context(), userID(c), *req)
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.JSON(result)
}

// parseListWorkflowsRequest parses the list query parameters. Values
// are range-checked by the service, not here.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.Active = &active
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflows.Get(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.workflows.Update(c.Context(), userID(c), c.Params("id"), req.saveInput())
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.JSON(SaveWorkflowResponse{
		Workflow: result.Workflow,
		Warnings: result.Warnings,
	})
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflows.Delete(c.Context(), userID(c), c.Params("id")); err != nil {
		return serviceProblem(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ValidateWorkflow reports on the stored graph without persisting
// anything.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	result, err := h.workflows.Validate(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.JSON(result)
}

// RunWorkflow starts an execution and acknowledges it without waiting
// for the run to finish. The body is optional: without one the run
// starts from every entry point.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.executions.Run(c.Context(), userID(c), c.Params("id"), services.RunWorkflowRequest{
		TriggerNodeID: req.TriggerNodeID,
		TriggerData:   req.TriggerData,
	})
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ExecutionID: execution.ID,
		Status:      execution.Status,
	})
}

// RunWorkflowNode starts a node test run, in isolation or with its
// downstream, optionally against a caller-supplied graph override.
func (h *APIHandlers) RunWorkflowNode(c fiber.Ctx) error {
	var req RunNodeRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.executions.RunNode(c.Context(), userID(c), c.Params("id"), c.Params("nodeId"), services.RunNodeRequest{
		Input:      req.Input,
		Parameters: req.Parameters,
		Mode:       models.ExecutionMode(req.Mode),
		Override:   req.WorkflowData,
	})
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ExecutionID: execution.ID,
		Status:      execution.Status,
	})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	req, err := h.parseListExecutionsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.executions.List(c.Context(), userID(c), *req)
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) parseListExecutionsRequest(c fiber.Ctx) (*services.ListExecutionsRequest, error) {
	req := &services.ListExecutionsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.WorkflowID = c.Query("workflowId")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ExecutionStatus(statusStr)
		req.Status = &status
	}

	return req, nil
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executions.Get(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.JSON(execution)
}

// CancelExecution requests cancellation. The returned record reflects
// what this instance knows; a run owned by another instance settles
// its terminal status asynchronously.
func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.executions.Cancel(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

// RetryExecution reruns a failed or cancelled execution as a fresh
// record against the original's graph snapshot.
func (h *APIHandlers) RetryExecution(c fiber.Ctx) error {
	execution, err := h.executions.Retry(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ExecutionID: execution.ID,
		Status:      execution.Status,
	})
}

func (h *APIHandlers) DeleteExecution(c fiber.Ctx) error {
	if err := h.executions.Delete(c.Context(), userID(c), c.Params("id")); err != nil {
		return serviceProblem(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetExecutionStats(c fiber.Ctx) error {
	stats, err := h.executions.Stats(c.Context(), userID(c), c.Query("workflowId"))
	if err != nil {
		return serviceProblem(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, registryOK := h.registry.HealthCheck()
	repositoryCheck, repositoryOK := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Trellis API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if registryOK && repositoryOK {
		status = "healthy"
		message = "Trellis API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
