package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/trellisflow/trellis/pkg/events"
	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/orchestrator"
	"github.com/trellisflow/trellis/pkg/persistence"
)

// Engine is the orchestrator surface the execution service drives.
type Engine interface {
	StartWorkflow(ctx context.Context, opts orchestrator.StartOptions) (*models.Execution, error)
	RunNode(ctx context.Context, opts orchestrator.RunNodeOptions) (*models.Execution, error)

	// Cancel reports whether the execution was running in this process.
	Cancel(executionID string) bool
}

// ExecutionService implements the execution lifecycle: starting runs,
// single-node test runs, cancel, retry, delete, and history queries.
// Starts are asynchronous; callers observe progress over the realtime
// gateway or by polling.
type ExecutionService struct {
	persistence persistence.Persistence
	engine      Engine
	publisher   *events.Publisher
	logger      *slog.Logger
}

// NewExecutionService wires an execution service around the engine.
func NewExecutionService(
	store persistence.Persistence,
	engine Engine,
	publisher *events.Publisher,
	logger *slog.Logger,
) *ExecutionService {
	return &ExecutionService{
		persistence: store,
		engine:      engine,
		publisher:   publisher,
		logger:      logger.With("module", "execution_service"),
	}
}

// RunWorkflowRequest starts a full workflow run. An empty
// TriggerNodeID means "run all": every trigger-less entry point.
type RunWorkflowRequest struct {
	TriggerNodeID string
	TriggerData   map[string]any
}

// Run starts a workflow execution for its owner and returns the
// pending record without waiting for the run to finish.
func (s *ExecutionService) Run(ctx context.Context, userID, workflowID string, req RunWorkflowRequest) (*models.Execution, error) {
	const op = "executions.run"

	_, serviceErr := s.loadOwnedWorkflow(ctx, op, userID, workflowID)
	if serviceErr != nil {
		return nil, serviceErr
	}

	execution, err := s.engine.StartWorkflow(ctx, orchestrator.StartOptions{
		WorkflowID:    workflowID,
		UserID:        userID,
		TriggerNodeID: req.TriggerNodeID,
		TriggerData:   req.TriggerData,
	})
	if err != nil {
		return nil, startError(op, err)
	}

	s.logger.InfoContext(ctx, "Execution started",
		"execution_id", execution.ID,
		"workflow_id", workflowID)

	return execution, nil
}

// RunNodeRequest describes a single-node test run. Mode defaults to
// single; Override lets the editor test unsaved graphs.
type RunNodeRequest struct {
	Input      map[string]any
	Parameters map[string]any
	Mode       models.ExecutionMode
	Override   *models.GraphSnapshot
}

// RunNode starts a node test run. With an override the workflow does
// not have to exist yet; when it does, it must belong to the caller.
func (s *ExecutionService) RunNode(ctx context.Context, userID, workflowID, nodeID string, req RunNodeRequest) (*models.Execution, error) {
	const op = "executions.run_node"

	if req.Mode != "" && req.Mode != models.ExecutionModeSingle && req.Mode != models.ExecutionModeWorkflow {
		return nil, NewValidationError(op,
			fmt.Sprintf("invalid mode '%s', allowed: single, workflow", req.Mode))
	}

	stored, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, NewInternalError(op, fmt.Errorf("load workflow: %w", err))
	}

	if stored == nil || stored.DeletedAt != nil {
		if req.Override == nil {
			return nil, NewNotFoundError(op, "workflow not found")
		}
	} else if stored.OwnerID != userID {
		return nil, NewUnauthorizedError(op, "authentication failed: workflow belongs to another user")
	}

	execution, err := s.engine.RunNode(ctx, orchestrator.RunNodeOptions{
		WorkflowID: workflowID,
		NodeID:     nodeID,
		UserID:     userID,
		Input:      req.Input,
		Parameters: req.Parameters,
		Mode:       req.Mode,
		Override:   req.Override,
	})
	if err != nil {
		return nil, startError(op, err)
	}

	s.logger.InfoContext(ctx, "Node test run started",
		"execution_id", execution.ID,
		"workflow_id", workflowID,
		"node_id", nodeID)

	return execution, nil
}

// Get returns one execution owned by userID.
func (s *ExecutionService) Get(ctx context.Context, userID, executionID string) (*models.Execution, error) {
	const op = "executions.get"

	execution, serviceErr := s.loadOwned(ctx, op, userID, executionID)
	if serviceErr != nil {
		return nil, serviceErr
	}

	return execution, nil
}

// ListExecutionsRequest filters and paginates an execution listing.
type ListExecutionsRequest struct {
	WorkflowID string
	Status     *models.ExecutionStatus
	Limit      int
	Offset     int
}

// ListExecutionsResponse is one page of executions.
type ListExecutionsResponse struct {
	Executions  []*models.Execution `json:"executions"`
	TotalCount  int64               `json:"total_count"`
	HasNextPage bool                `json:"has_next_page"`
}

// List returns the caller's executions, newest first.
func (s *ExecutionService) List(ctx context.Context, userID string, req ListExecutionsRequest) (*ListExecutionsResponse, error) {
	const op = "executions.list"

	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}

	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.Status != nil {
		allowed := []models.ExecutionStatus{
			models.ExecutionStatusPending,
			models.ExecutionStatusRunning,
			models.ExecutionStatusSuccess,
			models.ExecutionStatusError,
			models.ExecutionStatusPartial,
			models.ExecutionStatusCancelled,
		}
		if !slices.Contains(allowed, *req.Status) {
			return nil, NewValidationError(op, fmt.Sprintf("invalid status '%s'", *req.Status))
		}
	}

	result, err := s.persistence.ExecutionRepository().List(ctx, persistence.ListExecutionsOptions{
		WorkflowID: req.WorkflowID,
		UserID:     userID,
		Status:     req.Status,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, NewInternalError(op, fmt.Errorf("list executions: %w", err))
	}

	return &ListExecutionsResponse{
		Executions:  result.Executions,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// Cancel requests cooperative cancellation of a pending or running
// execution. Runs owned by this process are signalled directly; a
// pending record with no local run flips straight to cancelled, and a
// run owned by another process is asked over the control topic.
func (s *ExecutionService) Cancel(ctx context.Context, userID, executionID string) (*models.Execution, error) {
	const op = "executions.cancel"

	execution, serviceErr := s.loadOwned(ctx, op, userID, executionID)
	if serviceErr != nil {
		return nil, serviceErr
	}

	if execution.Status.Terminal() {
		return nil, NewConflictError(op,
			fmt.Sprintf("cannot cancel execution in status '%s'", execution.Status))
	}

	if s.engine.Cancel(executionID) {
		s.logger.InfoContext(ctx, "Execution cancel signalled",
			"execution_id", executionID)

		return execution, nil
	}

	if execution.Status == models.ExecutionStatusPending {
		now := time.Now().UTC()
		execution.Status = models.ExecutionStatusCancelled
		execution.FinishedAt = &now

		err := s.persistence.ExecutionRepository().Save(ctx, execution)
		if err != nil {
			return nil, NewInternalError(op, fmt.Errorf("save execution: %w", err))
		}

		s.publisher.PublishExecutionCancelled(ctx, execution)

		s.logger.InfoContext(ctx, "Pending execution cancelled",
			"execution_id", executionID)

		return execution, nil
	}

	// Running under another instance; the owning engine picks the
	// request up from the control topic.
	s.publisher.PublishCancelRequested(ctx, executionID, execution.WorkflowID, userID)

	s.logger.InfoContext(ctx, "Execution cancel requested",
		"execution_id", executionID,
		"workflow_id", execution.WorkflowID)

	return execution, nil
}

// Retry starts a fresh execution from a failed or cancelled one,
// reusing its graph snapshot and trigger data. The original record is
// never touched.
func (s *ExecutionService) Retry(ctx context.Context, userID, executionID string) (*models.Execution, error) {
	const op = "executions.retry"

	execution, serviceErr := s.loadOwned(ctx, op, userID, executionID)
	if serviceErr != nil {
		return nil, serviceErr
	}

	if execution.Status != models.ExecutionStatusError && execution.Status != models.ExecutionStatusCancelled {
		return nil, NewConflictError(op,
			fmt.Sprintf("cannot retry execution in status '%s'", execution.Status))
	}

	if execution.Mode == models.ExecutionModeSingle {
		return nil, NewConflictError(op, "single-node test runs cannot be retried")
	}

	retried, err := s.engine.StartWorkflow(ctx, orchestrator.StartOptions{
		WorkflowID:    execution.WorkflowID,
		UserID:        userID,
		TriggerNodeID: execution.TriggerNodeID,
		TriggerData:   execution.TriggerData,
		Override:      execution.Snapshot,
	})
	if err != nil {
		return nil, startError(op, err)
	}

	s.logger.InfoContext(ctx, "Execution retried",
		"execution_id", retried.ID,
		"retried_from", executionID,
		"workflow_id", execution.WorkflowID)

	return retried, nil
}

// Delete hard-deletes an execution record. Only terminal executions
// can be deleted: removing a record the run loop is still writing to
// would resurrect it on the next status transition.
func (s *ExecutionService) Delete(ctx context.Context, userID, executionID string) error {
	const op = "executions.delete"

	execution, serviceErr := s.loadOwned(ctx, op, userID, executionID)
	if serviceErr != nil {
		return serviceErr
	}

	if !execution.Status.Terminal() {
		return NewConflictError(op,
			fmt.Sprintf("cannot delete execution in status '%s'", execution.Status))
	}

	err := s.persistence.ExecutionRepository().Delete(ctx, executionID)
	if err != nil {
		return NewInternalError(op, fmt.Errorf("delete execution: %w", err))
	}

	s.logger.InfoContext(ctx, "Execution deleted", "execution_id", executionID)

	return nil
}

// Stats aggregates the caller's execution history, optionally scoped
// to one workflow.
func (s *ExecutionService) Stats(ctx context.Context, userID, workflowID string) (*persistence.ExecutionStats, error) {
	const op = "executions.stats"

	stats, err := s.persistence.ExecutionRepository().Stats(ctx, workflowID, userID)
	if err != nil {
		return nil, NewInternalError(op, fmt.Errorf("execution stats: %w", err))
	}

	return stats, nil
}

func (s *ExecutionService) loadOwned(ctx context.Context, op, userID, executionID string) (*models.Execution, *Error) {
	execution, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, NewInternalError(op, fmt.Errorf("load execution: %w", err))
	}

	if execution == nil {
		return nil, NewNotFoundError(op, "execution not found")
	}

	if execution.UserID != userID {
		return nil, NewUnauthorizedError(op, "authentication failed: execution belongs to another user")
	}

	return execution, nil
}

func (s *ExecutionService) loadOwnedWorkflow(ctx context.Context, op, userID, workflowID string) (*models.Workflow, *Error) {
	w, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, NewInternalError(op, fmt.Errorf("load workflow: %w", err))
	}

	if w == nil || w.DeletedAt != nil {
		return nil, NewNotFoundError(op, "workflow not found")
	}

	if w.OwnerID != userID {
		return nil, NewUnauthorizedError(op, "authentication failed: workflow belongs to another user")
	}

	return w, nil
}

// startError classifies engine start failures by sentinel.
func startError(op string, err error) *Error {
	switch {
	case errors.Is(err, persistence.ErrWorkflowNotFound):
		return NewNotFoundError(op, "workflow not found")
	case errors.Is(err, orchestrator.ErrNodeNotInGraph), errors.Is(err, orchestrator.ErrNoEntryPoints):
		return NewValidationError(op, err.Error())
	default:
		return NewInternalError(op, err)
	}
}
