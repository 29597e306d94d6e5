// Package persistence provides the data storage abstraction for workflows and executions.
package persistence

import (
	"context"
	"time"

	"github.com/trellisflow/trellis/pkg/models"
)

// Persistence groups the repositories behind one connection-owning handle.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions. GetByID returns
// (nil, nil) when no workflow exists, so callers can distinguish
// "missing" from storage failures.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records. GetByID returns
// (nil, nil) when no execution exists.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	List(ctx context.Context, opts ListExecutionsOptions) (*ExecutionListResult, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, workflowID, userID string) (*ExecutionStats, error)
}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	OwnerID   string
	Active    *bool
	Limit     int
	Offset    int
	SortBy    string // created_at, updated_at, name
	SortOrder string // asc, desc
}

// WorkflowListResult is one page of workflows.
type WorkflowListResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

// ListExecutionsOptions filters and paginates execution listings.
type ListExecutionsOptions struct {
	WorkflowID string
	UserID     string
	Status     *models.ExecutionStatus
	Limit      int
	Offset     int
}

// ExecutionListResult is one page of executions.
type ExecutionListResult struct {
	Executions  []*models.Execution
	TotalCount  int64
	HasNextPage bool
}

// ExecutionStats aggregates execution history for dashboards.
type ExecutionStats struct {
	Total           int64                            `json:"total"`
	ByStatus        map[models.ExecutionStatus]int64 `json:"by_status"`
	AverageDuration time.Duration                    `json:"average_duration"`
	LastExecutionAt *time.Time                       `json:"last_execution_at,omitempty"`
}
