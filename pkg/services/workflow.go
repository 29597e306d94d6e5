package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/trellisflow/trellis/pkg/events"
	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/persistence"
	"github.com/trellisflow/trellis/pkg/workflow"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// WorkflowService implements workflow management: CRUD with graph
// validation and trigger preparation on every write, plus the change
// events the trigger plane reconciles from.
type WorkflowService struct {
	persistence persistence.Persistence
	definitions workflow.Definitions
	publisher   *events.Publisher
	logger      *slog.Logger
}

// NewWorkflowService wires a workflow service. A connected registry
// satisfies the definitions interface.
func NewWorkflowService(
	store persistence.Persistence,
	defs workflow.Definitions,
	publisher *events.Publisher,
	logger *slog.Logger,
) *WorkflowService {
	return &WorkflowService{
		persistence: store,
		definitions: defs,
		publisher:   publisher,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck reports whether the storage backend is reachable.
func (s *WorkflowService) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "persistence layer is unhealthy: " + err.Error(), false
	}

	return "persistence layer is healthy", true
}

// SaveWorkflowInput is the write payload shared by create and update.
// Nil means the field was not supplied: update keeps the stored value,
// create falls back to the zero value.
type SaveWorkflowInput struct {
	Name        string
	Description *string
	Active      *bool
	Nodes       []*models.Node
	Connections []*models.Connection
	Triggers    []workflow.TriggerInput
	Settings    *models.WorkflowSettings
}

// SaveResult carries a persisted workflow together with the validation
// warnings that did not block the save.
type SaveResult struct {
	Workflow *models.Workflow
	Warnings []string
}

// Create validates and persists a new workflow owned by userID. The
// graph must pass validation; triggers are prepared from the payload
// per the trigger registry rules. New workflows start inactive unless
// the payload says otherwise.
func (s *WorkflowService) Create(ctx context.Context, userID string, input SaveWorkflowInput) (*SaveResult, error) {
	const op = "workflows.create"

	w := &models.Workflow{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Name:        input.Name,
		OwnerID:     userID,
		Nodes:       []*models.Node{},
		Connections: []*models.Connection{},
		Triggers:    []*models.Trigger{},
	}

	if input.Description != nil {
		w.Description = *input.Description
	}

	if input.Active != nil {
		w.Active = *input.Active
	}

	if input.Nodes != nil {
		w.Nodes = input.Nodes
	}

	if input.Connections != nil {
		w.Connections = input.Connections
	}

	if input.Settings != nil {
		w.Settings = *input.Settings
	}

	triggers, err := workflow.PrepareTriggers(workflow.PrepareInput{
		Nodes:    input.Nodes,
		Triggers: input.Triggers,
		Timezone: w.Settings.Timezone,
	}, s.definitions)
	if err != nil {
		return nil, NewValidationError(op, err.Error())
	}

	if triggers != nil {
		w.Triggers = triggers
	}

	result := s.check(w)
	if !result.Valid {
		return nil, NewValidationErrors(op, result.Errors)
	}

	err = s.persistence.WorkflowRepository().Save(ctx, w)
	if err != nil {
		return nil, NewInternalError(op, fmt.Errorf("save workflow: %w", err))
	}

	s.publisher.PublishWorkflowUpdated(ctx, w.ID)

	s.logger.InfoContext(ctx, "Workflow created",
		"workflow_id", w.ID,
		"owner_id", userID,
		"trigger_count", len(w.Triggers))

	return &SaveResult{Workflow: w, Warnings: result.Warnings}, nil
}

// Update merges the supplied fields onto the stored workflow,
// re-validates the merged graph, and persists it. Fields the caller
// did not supply keep their stored values; supplying neither nodes nor
// triggers leaves the stored trigger set unchanged.
func (s *WorkflowService) Update(ctx context.Context, userID, workflowID string, input SaveWorkflowInput) (*SaveResult, error) {
	const op = "workflows.update"

	existing, serviceErr := s.loadOwned(ctx, op, userID, workflowID)
	if serviceErr != nil {
		return nil, serviceErr
	}

	merged := *existing

	if input.Name != "" {
		merged.Name = input.Name
	}

	if input.Description != nil {
		merged.Description = *input.Description
	}

	if input.Active != nil {
		merged.Active = *input.Active
	}

	if input.Nodes != nil {
		merged.Nodes = input.Nodes
	}

	if input.Connections != nil {
		merged.Connections = input.Connections
	}

	if input.Settings != nil {
		merged.Settings = *input.Settings
	}

	triggers, err := workflow.PrepareTriggers(workflow.PrepareInput{
		Nodes:    input.Nodes,
		Triggers: input.Triggers,
		Timezone: merged.Settings.Timezone,
	}, s.definitions)
	if err != nil {
		return nil, NewValidationError(op, err.Error())
	}

	if triggers != nil {
		merged.Triggers = triggers
	}

	result := s.check(&merged)
	if !result.Valid {
		return nil, NewValidationErrors(op, result.Errors)
	}

	err = s.persistence.WorkflowRepository().Save(ctx, &merged)
	if err != nil {
		return nil, NewInternalError(op, fmt.Errorf("save workflow: %w", err))
	}

	s.publisher.PublishWorkflowUpdated(ctx, workflowID)

	s.logger.InfoContext(ctx, "Workflow updated",
		"workflow_id", workflowID,
		"trigger_count", len(merged.Triggers))

	return &SaveResult{Workflow: &merged, Warnings: result.Warnings}, nil
}

// Get returns one workflow owned by userID.
func (s *WorkflowService) Get(ctx context.Context, userID, workflowID string) (*models.Workflow, error) {
	const op = "workflows.get"

	w, serviceErr := s.loadOwned(ctx, op, userID, workflowID)
	if serviceErr != nil {
		return nil, serviceErr
	}

	return w, nil
}

// ListWorkflowsRequest filters and paginates a workflow listing. Zero
// values fall back to defaults.
type ListWorkflowsRequest struct {
	Active    *bool
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// ListWorkflowsResponse is one page of workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// List returns the caller's workflows, filtered and paginated.
func (s *WorkflowService) List(ctx context.Context, userID string, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	const op = "workflows.list"

	serviceErr := validateListRequest(op, &req)
	if serviceErr != nil {
		return nil, serviceErr
	}

	result, err := s.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		OwnerID:   userID,
		Active:    req.Active,
		Limit:     req.Limit,
		Offset:    req.Offset,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return nil, NewInternalError(op, fmt.Errorf("list workflows: %w", err))
	}

	return &ListWorkflowsResponse{
		Workflows:   result.Workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// Delete removes a workflow and announces the deletion so the trigger
// plane tears down its runtime bindings.
func (s *WorkflowService) Delete(ctx context.Context, userID, workflowID string) error {
	const op = "workflows.delete"

	_, serviceErr := s.loadOwned(ctx, op, userID, workflowID)
	if serviceErr != nil {
		return serviceErr
	}

	err := s.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return NewNotFoundError(op, "workflow not found")
		}

		return NewInternalError(op, fmt.Errorf("delete workflow: %w", err))
	}

	s.publisher.PublishWorkflowDeleted(ctx, workflowID)

	s.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID)

	return nil
}

// Validate runs the full validation pass over a stored workflow
// without persisting anything.
func (s *WorkflowService) Validate(ctx context.Context, userID, workflowID string) (*workflow.ValidationResult, error) {
	const op = "workflows.validate"

	w, serviceErr := s.loadOwned(ctx, op, userID, workflowID)
	if serviceErr != nil {
		return nil, serviceErr
	}

	result := s.check(w)

	return &result, nil
}

// check combines structural validation with parameter-schema checks.
// Parameter violations count as errors so invalid configurations never
// reach storage.
func (s *WorkflowService) check(w *models.Workflow) workflow.ValidationResult {
	result := workflow.Validate(w)
	result.Errors = append(result.Errors, workflow.ValidateParameters(w, s.definitions)...)
	result.Valid = len(result.Errors) == 0

	return result
}

// loadOwned fetches a workflow and enforces ownership. Missing and
// soft-deleted workflows read as not found.
func (s *WorkflowService) loadOwned(ctx context.Context, op, userID, workflowID string) (*models.Workflow, *Error) {
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

func validateListRequest(op string, req *ListWorkflowsRequest) *Error {
	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}

	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}
	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(op,
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")))
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(op,
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder))
	}

	return nil
}
