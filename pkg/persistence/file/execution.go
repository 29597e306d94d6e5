package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	root string
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

// GetByID retrieves an execution by its ID from the file system.
func (er *ExecutionRepository) GetByID(_ context.Context, executionID string) (*models.Execution, error) {
	filePath := filepath.Clean(path.Join(er.root, "executions", executionID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
	}

	var execution models.Execution

	err = json.Unmarshal(body, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}

	return &execution, nil
}

// Save writes an execution to the file system.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	err := os.MkdirAll(path.Join(er.root, "executions"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	filePath := path.Join(er.root, "executions", execution.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// Delete removes an execution by its ID.
func (er *ExecutionRepository) Delete(_ context.Context, id string) error {
	filePath := path.Join(er.root, "executions", id+".json")

	err := os.Remove(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewExecutionError("Delete", id, persistence.ErrExecutionNotFound)
		}

		return fmt.Errorf("failed to delete execution %s: %w", id, err)
	}

	return nil
}

// List returns paginated and filtered executions, newest first.
func (er *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	filtered, err := er.load(ctx, opts.WorkflowID, opts.UserID, opts.Status)
	if err != nil {
		return nil, err
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	totalCount := int64(len(filtered))

	startIdx := opts.Offset
	if startIdx >= len(filtered) {
		return &persistence.ExecutionListResult{
			Executions:  make([]*models.Execution, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	endIdx := opts.Offset + opts.Limit
	if endIdx > len(filtered) {
		endIdx = len(filtered)
	}

	return &persistence.ExecutionListResult{
		Executions:  filtered[startIdx:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

// Stats aggregates execution history for one workflow or one owner.
func (er *ExecutionRepository) Stats(ctx context.Context, workflowID, userID string) (*persistence.ExecutionStats, error) {
	executions, err := er.load(ctx, workflowID, userID, nil)
	if err != nil {
		return nil, err
	}

	stats := &persistence.ExecutionStats{
		Total:    int64(len(executions)),
		ByStatus: make(map[models.ExecutionStatus]int64),
	}

	var (
		durationSum   time.Duration
		durationCount int64
	)

	for _, execution := range executions {
		stats.ByStatus[execution.Status]++

		if d := execution.Duration(); d > 0 {
			durationSum += d
			durationCount++
		}

		if stats.LastExecutionAt == nil || execution.CreatedAt.After(*stats.LastExecutionAt) {
			createdAt := execution.CreatedAt
			stats.LastExecutionAt = &createdAt
		}
	}

	if durationCount > 0 {
		stats.AverageDuration = durationSum / time.Duration(durationCount)
	}

	return stats, nil
}

// load reads every execution file and applies the given filters.
func (er *ExecutionRepository) load(ctx context.Context, workflowID, userID string, status *models.ExecutionStatus) ([]*models.Execution, error) {
	root := os.DirFS(path.Join(er.root, "executions"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.Execution, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		executionID := file[:len(file)-5] // Trim .json

		execution, err := er.GetByID(ctx, executionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
		}

		if execution == nil {
			continue
		}

		if workflowID != "" && execution.WorkflowID != workflowID {
			continue
		}

		if userID != "" && execution.UserID != userID {
			continue
		}

		if status != nil && execution.Status != *status {
			continue
		}

		executions = append(executions, execution)
	}

	return executions, nil
}
