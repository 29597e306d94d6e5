package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , user_id
  , status
  , mode
  , trigger_node_id
  , trigger_data
  , node_results
  , snapshot
  , error
  , created_at
  , started_at
  , finished_at
`

// GetByID returns an execution by its ID, or (nil, nil) when missing.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// Save upserts an execution record.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	triggerDataJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	nodeResultsJSON, err := json.Marshal(execution.NodeResults)
	if err != nil {
		return fmt.Errorf("failed to marshal node results: %w", err)
	}

	snapshotJSON, err := json.Marshal(execution.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, user_id, status, mode, trigger_node_id,
			trigger_data, node_results, snapshot, error, created_at,
			started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			node_results = EXCLUDED.node_results,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.UserID,
		execution.Status,
		execution.Mode,
		nullableString(execution.TriggerNodeID),
		triggerDataJSON,
		nodeResultsJSON,
		snapshotJSON,
		nullableString(execution.Error),
		execution.CreatedAt,
		execution.StartedAt,
		execution.FinishedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// Delete removes an execution record.
func (r *ExecutionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Delete", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

// List returns paginated and filtered executions, newest first.
func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	where := "WHERE 1=1"
	args := make([]any, 0, 5)

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		where += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if opts.UserID != "" {
		args = append(args, opts.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var totalCount int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions "+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	args = append(args, opts.Limit, opts.Offset)
	query := fmt.Sprintf("SELECT %s FROM executions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		executionColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return &persistence.ExecutionListResult{
		Executions:  executions,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(executions)) < totalCount,
	}, nil
}

// Stats aggregates execution history in one round trip per dimension.
func (r *ExecutionRepository) Stats(ctx context.Context, workflowID, userID string) (*persistence.ExecutionStats, error) {
	where := "WHERE 1=1"
	args := make([]any, 0, 2)

	if workflowID != "" {
		args = append(args, workflowID)
		where += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if userID != "" {
		args = append(args, userID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	stats := &persistence.ExecutionStats{
		ByStatus: make(map[models.ExecutionStatus]int64),
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM executions "+where+" GROUP BY status", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution stats: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var (
			status string
			count  int64
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}

		stats.ByStatus[models.ExecutionStatus(status)] = count
		stats.Total += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}

	var (
		avgSeconds sql.NullFloat64
		lastRunAt  sql.NullTime
	)

	err = r.db.QueryRowContext(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM finished_at - started_at)) FROM executions `+
			where+` AND started_at IS NOT NULL AND finished_at IS NOT NULL`, args...).
		Scan(&avgSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to query duration stats: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM executions "+where, args...).Scan(&lastRunAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query last execution time: %w", err)
	}

	if avgSeconds.Valid {
		stats.AverageDuration = time.Duration(avgSeconds.Float64 * float64(time.Second))
	}

	if lastRunAt.Valid {
		lastRun := lastRunAt.Time
		stats.LastExecutionAt = &lastRun
	}

	return stats, nil
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution       models.Execution
		triggerNodeID   sql.NullString
		triggerDataJSON []byte
		nodeResultsJSON []byte
		snapshotJSON    []byte
		errorMessage    sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.UserID,
		&execution.Status,
		&execution.Mode,
		&triggerNodeID,
		&triggerDataJSON,
		&nodeResultsJSON,
		&snapshotJSON,
		&errorMessage,
		&execution.CreatedAt,
		&execution.StartedAt,
		&execution.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.TriggerNodeID = triggerNodeID.String
	execution.Error = errorMessage.String

	if len(triggerDataJSON) > 0 {
		if err := json.Unmarshal(triggerDataJSON, &execution.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}

	if err := json.Unmarshal(nodeResultsJSON, &execution.NodeResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node results: %w", err)
	}

	if err := json.Unmarshal(snapshotJSON, &execution.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &execution, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
