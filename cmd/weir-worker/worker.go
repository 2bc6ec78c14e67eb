// Package main provides the Weir worker that drains the execution queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/weirlabs/weir/pkg/engine"
	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/persistence"
	"github.com/weirlabs/weir/pkg/queue"
)

// Worker consumes execution requests from the queue and runs them through
// the engine until interrupted.
type Worker struct {
	workerID    string
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	queue       *queue.ExecutionQueue
}

func NewWorker(
	workerID string,
	logger *slog.Logger,
	store persistence.Persistence,
	executionEngine *engine.Engine,
	executionQueue *queue.ExecutionQueue,
) *Worker {
	return &Worker{
		workerID:    workerID,
		logger:      logger,
		persistence: store,
		engine:      executionEngine,
		queue:       executionQueue,
	}
}

// Start consumes the queue until the context is cancelled or a SIGINT/SIGTERM
// arrives, then drains in-flight executions.
func (w *Worker) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w.queue.Consume(ctx, w.handle)

	w.logger.InfoContext(ctx, "Worker started, waiting for execution requests")

	<-ctx.Done()

	w.logger.Info("Shutting down worker")

	return w.queue.Stop()
}

func (w *Worker) handle(ctx context.Context, req models.ExecutionRequest) error {
	logger := w.logger.With("workflow_id", req.WorkflowID)

	workflow, err := w.persistence.WorkflowRepository().WorkflowByID(ctx, req.WorkflowID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load workflow for execution request", "error", err)

		return err
	}

	execution, err := w.engine.Execute(ctx, workflow, req)
	if err != nil {
		logger.ErrorContext(ctx, "Execution request rejected", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Execution finished",
		"execution_id", execution.ID,
		"status", execution.Status,
		"duration_ms", execution.DurationMS)

	return nil
}
