package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/persistence"
)

// ExecutionRepository handles execution record database operations.
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
  , status
  , started_at
  , completed_at
  , duration_ms
  , progress
  , node_snapshots
  , error
  , cancel_reason
`

// SaveExecution upserts an execution record with its node snapshots.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	progressJSON, err := json.Marshal(execution.Progress)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal progress: %w", err))
	}

	snapshotsJSON, err := json.Marshal(execution.NodeSnapshots)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal node snapshots: %w", err))
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, status, started_at, completed_at,
			duration_ms, progress, node_snapshots, error, cancel_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			progress = EXCLUDED.progress,
			node_snapshots = EXCLUDED.node_snapshots,
			error = EXCLUDED.error,
			cancel_reason = EXCLUDED.cancel_reason
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		execution.StartedAt,
		execution.CompletedAt,
		execution.DurationMS,
		progressJSON,
		snapshotsJSON,
		execution.Error,
		execution.CancelReason,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to save execution: %w", err))
	}

	return nil
}

// ExecutionByID returns the execution record with the given id.
func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// ExecutionsByWorkflow returns all executions of a workflow, newest first.
func (r *ExecutionRepository) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE workflow_id = $1 ORDER BY started_at DESC`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution     models.WorkflowExecution
		completedAt   sql.NullTime
		progressJSON  []byte
		snapshotsJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&execution.StartedAt,
		&completedAt,
		&execution.DurationMS,
		&progressJSON,
		&snapshotsJSON,
		&execution.Error,
		&execution.CancelReason,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		completed := completedAt.Time
		execution.CompletedAt = &completed
	}

	if err := json.Unmarshal(progressJSON, &execution.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}

	if err := json.Unmarshal(snapshotsJSON, &execution.NodeSnapshots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node snapshots: %w", err)
	}

	return &execution, nil
}
