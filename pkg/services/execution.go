package services

import (
	"context"
	"errors"
	"fmt"

	weirengine "github.com/weirlabs/weir/pkg/engine"
	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/persistence"
)

// Execution is the application service for running workflows and querying
// their execution records.
type Execution struct {
	persistence persistence.Persistence
	engine      *weirengine.Engine
}

// NewExecution creates a new execution service.
func NewExecution(store persistence.Persistence, engine *weirengine.Engine) *Execution {
	return &Execution{
		persistence: store,
		engine:      engine,
	}
}

// Start loads the workflow and launches an asynchronous execution, returning
// the execution id immediately. A validation failure is returned
// synchronously and no execution record is created.
func (e *Execution) Start(ctx context.Context, workflowID string, req models.ExecutionRequest) (string, error) {
	workflow, err := e.persistence.WorkflowRepository().WorkflowByID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	req.WorkflowID = workflowID

	executionID, err := e.engine.Start(ctx, workflow, req)
	if err != nil {
		return "", err
	}

	return executionID, nil
}

// Cancel requests cooperative cancellation of an active execution.
func (e *Execution) Cancel(ctx context.Context, executionID, reason string) error {
	err := e.engine.Cancel(executionID, reason)
	if err == nil {
		return nil
	}

	if !errors.Is(err, weirengine.ErrExecutionNotActive) {
		return err
	}

	// Not active in this process: distinguish a finished execution from an
	// unknown id for the caller.
	execution, fetchErr := e.persistence.ExecutionRepository().ExecutionByID(ctx, executionID)
	if fetchErr != nil {
		return fetchErr
	}

	if execution.Status.Terminal() {
		return &ServiceError{
			Op:      "Cancel",
			Message: fmt.Sprintf("execution %s already reached status %s", executionID, execution.Status),
			Err:     ErrCannotModifyTerminal,
		}
	}

	return err
}

// Pause suspends an active execution at its next node boundary.
func (e *Execution) Pause(_ context.Context, executionID string) error {
	return e.engine.Pause(executionID)
}

// Resume continues a paused execution.
func (e *Execution) Resume(_ context.Context, executionID string) error {
	return e.engine.Resume(executionID)
}

// FetchByID returns one execution record with progress and node snapshots.
func (e *Execution) FetchByID(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.persistence.ExecutionRepository().ExecutionByID(ctx, executionID)
}

// ListByWorkflow returns the execution history of a workflow, newest first.
func (e *Execution) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	if _, err := e.persistence.WorkflowRepository().WorkflowByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return e.persistence.ExecutionRepository().ExecutionsByWorkflow(ctx, workflowID)
}
