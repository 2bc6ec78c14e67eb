package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/weirlabs/weir/pkg/events"
	"github.com/weirlabs/weir/pkg/graph"
	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/otelhelper"
	"github.com/weirlabs/weir/pkg/protocol"
)

const (
	skipReasonUpstreamStop = "upstream stop"
	skipReasonNodeDisabled = "node disabled"

	defaultMaxRetries    = 3
	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
)

// runControl carries the cooperative cancellation and pause flags for one
// execution. The engine checks it between node invocations only; a node
// already executing is allowed to finish.
type runControl struct {
	mu        sync.Mutex
	cond      *sync.Cond
	cancelled bool
	reason    string
	paused    bool
}

func newRunControl() *runControl {
	control := &runControl{}
	control.cond = sync.NewCond(&control.mu)

	return control
}

func (c *runControl) cancel(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelled = true
	c.reason = reason
	c.cond.Broadcast()
}

func (c *runControl) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.paused = true
}

func (c *runControl) resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused {
		return ErrExecutionNotPaused
	}

	c.paused = false
	c.cond.Broadcast()

	return nil
}

// waitWhilePaused blocks until the execution is resumed or cancelled.
func (c *runControl) waitWhilePaused() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.paused && !c.cancelled {
		c.cond.Wait()
	}

	return c.cancelled, c.reason
}

type rollbackEntry struct {
	step     protocol.Rollbackable
	data     any
	execCtx  models.StepExecutionContext
	snapshot *models.NodeSnapshot
}

// runState is the per-execution working set. Two concurrent executions of the
// same workflow hold fully independent run states.
type runState struct {
	workflow  *models.Workflow
	execution *models.WorkflowExecution
	request   models.ExecutionRequest
	order     []*models.WorkflowNode
	control   *runControl

	mu       sync.Mutex
	outputs  map[string][]models.Segment
	rollback []rollbackEntry
	stopped  bool
	stopErr  string
}

func (st *runState) markStopped(nodeID string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.stopped {
		st.stopped = true
		st.stopErr = fmt.Sprintf("node %s failed: %v", nodeID, err)
	}
}

func (st *runState) isStopped() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.stopped
}

func (e *Engine) run(ctx context.Context, st *runState) {
	defer e.release(st.execution.ID)

	logger := e.logger.With(
		"workflow_id", st.workflow.ID,
		"execution_id", st.execution.ID,
	)
	logger.InfoContext(ctx, "Starting workflow execution", "total_nodes", st.execution.Progress.TotalNodes)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute",
		attribute.String(otelhelper.WorkflowIDKey, st.workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, st.workflow.Name),
		attribute.String(otelhelper.ExecutionIDKey, st.execution.ID),
	)
	defer span.End()

	e.setStatus(ctx, st, models.ExecutionStatusRunning)
	e.publish(ctx, st, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, st.workflow.ID),
		ExecutionID: st.execution.ID,
	})

	var (
		cancelled bool
		reason    string
	)

	if st.workflow.Settings.ParallelExecution {
		cancelled, reason = e.runLayers(ctx, st)
	} else {
		cancelled, reason = e.runSequential(ctx, st)
	}

	e.finalize(ctx, st, cancelled, reason)
}

func (e *Engine) runSequential(ctx context.Context, st *runState) (bool, string) {
	for i, node := range st.order {
		if cancelled, reason := e.checkpoint(ctx, st); cancelled {
			e.markRemaining(ctx, st, st.order[i:], models.NodeStatusCancelled, reason)

			return true, reason
		}

		if st.isStopped() {
			e.markRemaining(ctx, st, st.order[i:], models.NodeStatusSkipped, skipReasonUpstreamStop)

			return false, ""
		}

		e.runNode(ctx, st, node)
	}

	return false, ""
}

func (e *Engine) runLayers(ctx context.Context, st *runState) (bool, string) {
	layers, err := graph.Layers(st.workflow)
	if err != nil {
		// Graph was validated in prepare; a failure here is a programming error.
		st.markStopped("graph", err)

		return false, ""
	}

	for i, layer := range layers {
		if cancelled, reason := e.checkpoint(ctx, st); cancelled {
			e.markRemaining(ctx, st, flatten(layers[i:]), models.NodeStatusCancelled, reason)

			return true, reason
		}

		if st.isStopped() {
			e.markRemaining(ctx, st, flatten(layers[i:]), models.NodeStatusSkipped, skipReasonUpstreamStop)

			return false, ""
		}

		group := new(errgroup.Group)
		group.SetLimit(e.workerLimit)

		for _, node := range layer {
			group.Go(func() error {
				e.runNode(ctx, st, node)

				return nil
			})
		}

		_ = group.Wait()
	}

	return false, ""
}

// checkpoint is the cooperative suspension point between node invocations.
// It reports cancellation and blocks while the execution is paused.
func (e *Engine) checkpoint(ctx context.Context, st *runState) (bool, string) {
	if ctx.Err() != nil {
		return true, "context cancelled"
	}

	st.control.mu.Lock()

	if st.control.cancelled {
		reason := st.control.reason
		st.control.mu.Unlock()

		return true, reason
	}

	paused := st.control.paused
	st.control.mu.Unlock()

	if !paused {
		return false, ""
	}

	e.setStatus(ctx, st, models.ExecutionStatusPaused)
	e.publish(ctx, st, events.ExecutionPaused{
		BaseEvent:   events.NewBaseEvent(events.ExecutionPausedEvent, st.workflow.ID),
		ExecutionID: st.execution.ID,
	})

	cancelled, reason := st.control.waitWhilePaused()
	if cancelled {
		return true, reason
	}

	e.setStatus(ctx, st, models.ExecutionStatusRunning)
	e.publish(ctx, st, events.ExecutionResumed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, st.workflow.ID),
		ExecutionID: st.execution.ID,
	})

	return false, ""
}

func (e *Engine) runNode(ctx context.Context, st *runState, node *models.WorkflowNode) {
	logger := e.logger.With(
		"execution_id", st.execution.ID,
		"node_id", node.ID,
		"node_type", node.Type,
	)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeNameKey, node.Name),
		attribute.String(otelhelper.StepTypeKey, node.Type),
		attribute.String(otelhelper.ExecutionIDKey, st.execution.ID),
	)
	defer span.End()

	st.mu.Lock()
	st.execution.Progress.CurrentNodeName = node.Name
	input := st.resolveInputLocked(node)
	st.mu.Unlock()

	execCtx := models.StepExecutionContext{
		ExecutionID:      st.execution.ID,
		PipelineConfigID: st.workflow.ID,
		DocumentID:       st.request.DocumentID,
		DatasetID:        st.request.DatasetID,
		UserID:           st.request.UserID,
		Metadata:         st.request.Metadata,
		Logger:           logger,
	}

	started := time.Now().UTC()
	snapshot := &models.NodeSnapshot{
		NodeID:    node.ID,
		NodeName:  node.Name,
		StartedAt: &started,
	}

	step, err := e.registry.Create(ctx, node.Type)

	var result *models.StepExecutionResult

	if err == nil {
		logger.InfoContext(ctx, "Executing node", "input_count", len(input))
		result, err = e.invokeStep(ctx, st, node, step, input, execCtx)
	}

	completed := time.Now().UTC()
	snapshot.CompletedAt = &completed

	if result != nil {
		snapshot.Metrics = result.Metrics
	}

	if err != nil {
		otelhelper.SetError(span, err)
		snapshot.Status = models.NodeStatusFailed
		snapshot.Error = err.Error()

		logger.WarnContext(ctx, "Node failed", "error", err)

		if st.workflow.Settings.ErrorHandling != models.ErrorHandlingContinue {
			st.markStopped(node.ID, err)
		}
	} else {
		snapshot.Status = models.NodeStatusSucceeded

		st.mu.Lock()
		st.outputs[node.ID] = result.OutputSegments

		if rollbackable, ok := step.(protocol.Rollbackable); ok {
			if data := rollbackable.CreateRollbackData(result); data != nil {
				st.rollback = append(st.rollback, rollbackEntry{
					step:     rollbackable,
					data:     data,
					execCtx:  execCtx,
					snapshot: snapshot,
				})
			}
		}
		st.mu.Unlock()

		snapshot.Output = step.FormatOutput(result, input)
	}

	e.appendSnapshot(ctx, st, snapshot)
	e.publish(ctx, st, events.NodeFinished{
		BaseEvent:   events.NewBaseEvent(events.NodeFinishedEvent, st.workflow.ID),
		ExecutionID: st.execution.ID,
		NodeID:      node.ID,
		NodeName:    node.Name,
		Status:      snapshot.Status,
		Error:       snapshot.Error,
	})
}

// invokeStep runs the step once, or with bounded exponential backoff when the
// workflow's error handling is retry. A Success=false result and a returned
// Go error are both treated as node failures.
func (e *Engine) invokeStep(ctx context.Context, st *runState, node *models.WorkflowNode, step protocol.Step, input []models.Segment, execCtx models.StepExecutionContext) (*models.StepExecutionResult, error) {
	var result *models.StepExecutionResult

	operation := func() error {
		res, err := step.Execute(ctx, input, node.Config, execCtx)
		if err != nil {
			return err
		}

		if res == nil {
			return errors.New("step returned no result")
		}

		result = res

		if !res.Success {
			if res.Error != "" {
				return errors.New(res.Error)
			}

			return errors.New("step reported failure")
		}

		return nil
	}

	if st.workflow.Settings.ErrorHandling != models.ErrorHandlingRetry {
		err := operation()

		return result, err
	}

	retries := st.workflow.Settings.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx))

	return result, err
}

// resolveInputLocked assembles a node's input segments. With no declared
// input sources the outputs of direct predecessors are concatenated in edge
// declaration order. A predecessor that failed under the continue policy
// contributes an empty sequence. Callers must hold st.mu.
func (st *runState) resolveInputLocked(node *models.WorkflowNode) []models.Segment {
	input := make([]models.Segment, 0)

	if len(node.InputSources) == 0 {
		for _, edge := range st.workflow.Edges {
			if edge.Target == node.ID {
				input = append(input, st.outputs[edge.Source]...)
			}
		}

		return input
	}

	for _, source := range node.InputSources {
		switch source.Type {
		case models.InputSourcePreviousNode:
			input = append(input, st.outputs[source.NodeID]...)
		case models.InputSourceStatic:
			input = append(input, source.Data...)
		case models.InputSourceExternal:
			// External collaborators deliver their payload through the
			// step's own config; the engine contributes nothing here.
		}
	}

	return input
}

func (e *Engine) appendSnapshot(ctx context.Context, st *runState, snapshot *models.NodeSnapshot) {
	st.mu.Lock()
	st.execution.NodeSnapshots = append(st.execution.NodeSnapshots, snapshot)
	st.execution.Progress.CompletedNodes = len(st.execution.NodeSnapshots)
	st.execution.Progress.OverallProgress = progressPercent(st.execution.Progress.CompletedNodes, st.execution.Progress.TotalNodes)
	st.mu.Unlock()

	e.persist(ctx, st)
}

// markRemaining records a terminal snapshot for every node that will not run.
func (e *Engine) markRemaining(ctx context.Context, st *runState, nodes []*models.WorkflowNode, status models.NodeStatus, reason string) {
	st.mu.Lock()

	for _, node := range nodes {
		st.execution.NodeSnapshots = append(st.execution.NodeSnapshots, &models.NodeSnapshot{
			NodeID:     node.ID,
			NodeName:   node.Name,
			Status:     status,
			SkipReason: reason,
		})
	}

	st.execution.Progress.CompletedNodes = len(st.execution.NodeSnapshots)
	st.execution.Progress.OverallProgress = progressPercent(st.execution.Progress.CompletedNodes, st.execution.Progress.TotalNodes)
	st.mu.Unlock()

	e.persist(ctx, st)
}

func (e *Engine) finalize(ctx context.Context, st *runState, cancelled bool, reason string) {
	st.mu.Lock()
	stopped := st.stopped
	stopErr := st.stopErr
	st.mu.Unlock()

	switch {
	case cancelled:
		st.execution.Status = models.ExecutionStatusCancelled
		st.execution.CancelReason = reason
		st.execution.Progress.Message = "execution cancelled"
	case stopped:
		st.execution.Status = models.ExecutionStatusFailed
		st.execution.Error = stopErr
		st.execution.Progress.Message = stopErr

		e.rollbackSucceeded(ctx, st)
	default:
		st.execution.Status = models.ExecutionStatusCompleted
		st.execution.Progress.Message = "execution completed"
	}

	completedAt := time.Now().UTC()
	st.execution.CompletedAt = &completedAt
	st.execution.DurationMS = completedAt.Sub(st.execution.StartedAt).Milliseconds()
	st.execution.Progress.CurrentNodeName = ""

	// Deregister before the terminal persist so that once the terminal
	// status is queryable, Cancel/Pause no longer treat the run as active.
	e.release(st.execution.ID)

	e.persist(ctx, st)

	e.logger.InfoContext(ctx, "Workflow execution finished",
		"execution_id", st.execution.ID,
		"status", st.execution.Status,
		"duration_ms", st.execution.DurationMS,
	)

	e.notifyTerminal(ctx, st)
	e.publishTerminal(ctx, st, reason)
}

// rollbackSucceeded compensates already-succeeded rollbackable nodes in
// reverse completion order. A rollback failure is recorded on the node's
// snapshot and never re-triggers rollback.
func (e *Engine) rollbackSucceeded(ctx context.Context, st *runState) {
	st.mu.Lock()
	entries := make([]rollbackEntry, len(st.rollback))
	copy(entries, st.rollback)
	st.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]

		if err := entry.step.Rollback(ctx, entry.data, entry.execCtx); err != nil {
			entry.snapshot.RollbackFailed = true

			e.logger.ErrorContext(ctx, "Rollback failed, manual intervention required",
				"execution_id", st.execution.ID,
				"node_id", entry.snapshot.NodeID,
				"error", err,
			)
		}
	}
}

func (e *Engine) notifyTerminal(ctx context.Context, st *runState) {
	if e.notifier == nil {
		return
	}

	settings := st.workflow.Settings
	execution := st.execution
	notifyCtx := context.WithoutCancel(ctx)

	switch {
	case execution.Status == models.ExecutionStatusCompleted && settings.NotifyOnCompletion:
		go func() {
			if err := e.notifier.ExecutionCompleted(notifyCtx, execution); err != nil {
				e.logger.WarnContext(notifyCtx, "Completion notification failed", "execution_id", execution.ID, "error", err)
			}
		}()
	case execution.Status == models.ExecutionStatusFailed && settings.NotifyOnFailure:
		go func() {
			if err := e.notifier.ExecutionFailed(notifyCtx, execution); err != nil {
				e.logger.WarnContext(notifyCtx, "Failure notification failed", "execution_id", execution.ID, "error", err)
			}
		}()
	}
}

func (e *Engine) publishTerminal(ctx context.Context, st *runState, reason string) {
	switch st.execution.Status {
	case models.ExecutionStatusCompleted:
		e.publish(ctx, st, events.ExecutionCompleted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, st.workflow.ID),
			ExecutionID: st.execution.ID,
			Duration:    st.execution.DurationMS,
		})
	case models.ExecutionStatusFailed:
		e.publish(ctx, st, events.ExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, st.workflow.ID),
			ExecutionID: st.execution.ID,
			Error:       st.execution.Error,
			Duration:    st.execution.DurationMS,
		})
	case models.ExecutionStatusCancelled:
		e.publish(ctx, st, events.ExecutionCancelled{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, st.workflow.ID),
			ExecutionID: st.execution.ID,
			Reason:      reason,
		})
	}
}

func (e *Engine) setStatus(ctx context.Context, st *runState, status models.ExecutionStatus) {
	st.mu.Lock()
	st.execution.Status = status
	st.mu.Unlock()

	e.persist(ctx, st)
}

func (e *Engine) persist(ctx context.Context, st *runState) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := e.persistence.ExecutionRepository().SaveExecution(ctx, st.execution); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist execution record",
			"execution_id", st.execution.ID,
			"error", err,
		)
	}
}

func (e *Engine) publish(ctx context.Context, st *runState, event events.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, st.workflow.ID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"execution_id", st.execution.ID,
			"event_type", event.GetType(),
			"error", err,
		)
	}
}

func progressPercent(completed, total int) int {
	if total == 0 {
		return 100
	}

	return int(math.Round(float64(completed) / float64(total) * 100))
}

func flatten(layers [][]*models.WorkflowNode) []*models.WorkflowNode {
	nodes := make([]*models.WorkflowNode, 0)
	for _, layer := range layers {
		nodes = append(nodes, layer...)
	}

	return nodes
}
