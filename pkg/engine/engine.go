// Package engine orchestrates workflow executions: it validates the graph,
// walks nodes in dependency order, applies the error-handling policy and
// produces a terminal execution record with per-node snapshots.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/weirlabs/weir/pkg/eventbus"
	"github.com/weirlabs/weir/pkg/graph"
	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/notify"
	"github.com/weirlabs/weir/pkg/persistence"
	"github.com/weirlabs/weir/pkg/registry"
)

const defaultWorkerLimit = 4

// Engine runs workflows. It is safe for concurrent use; every execution gets
// its own isolated run state, so two simultaneous executions of the same
// workflow never share node-runtime state.
type Engine struct {
	logger      *slog.Logger
	registry    *registry.Registry
	persistence persistence.Persistence
	notifier    notify.Notifier
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	workerLimit int

	mu   sync.Mutex
	runs map[string]*runControl
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithNotifier sets the notification collaborator invoked on terminal
// executions per the workflow's notify settings.
func WithNotifier(notifier notify.Notifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// WithEventPublisher sets the event bus publisher for lifecycle events.
// Publishing is fire-and-forget; publish errors are logged and never affect
// an execution's recorded status.
func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithTracer sets the tracer used for execution and node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithWorkerLimit bounds how many sibling nodes run concurrently when a
// workflow enables parallel execution.
func WithWorkerLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.workerLimit = limit
		}
	}
}

func NewEngine(logger *slog.Logger, reg *registry.Registry, store persistence.Persistence, opts ...Option) *Engine {
	engine := &Engine{
		logger:      logger.With("module", "engine"),
		registry:    reg,
		persistence: store,
		tracer:      noop.NewTracerProvider().Tracer("engine"),
		workerLimit: defaultWorkerLimit,
		runs:        make(map[string]*runControl),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Validate checks the workflow structure and every enabled node's step
// configuration. It is called before any execution record is created, so a
// validation failure never leaves a partial execution behind.
func (e *Engine) Validate(ctx context.Context, workflow *models.Workflow) error {
	if err := graph.Validate(workflow); err != nil {
		return err
	}

	for _, node := range workflow.EnabledNodes() {
		if _, err := e.registry.CreateAndValidate(ctx, node.Type, node.Config); err != nil {
			return &NodeConfigError{NodeID: node.ID, Err: err}
		}
	}

	return nil
}

// Execute validates the workflow and runs it synchronously, returning the
// terminal execution record. A validation error is returned directly and no
// execution record is created.
func (e *Engine) Execute(ctx context.Context, workflow *models.Workflow, req models.ExecutionRequest) (*models.WorkflowExecution, error) {
	state, err := e.prepare(ctx, workflow, req)
	if err != nil {
		return nil, err
	}

	e.run(ctx, state)

	return state.execution, nil
}

// Start validates the workflow, creates the execution record and runs it in
// the background. The execution id is returned immediately and the record is
// queryable while the run progresses.
func (e *Engine) Start(ctx context.Context, workflow *models.Workflow, req models.ExecutionRequest) (string, error) {
	state, err := e.prepare(ctx, workflow, req)
	if err != nil {
		return "", err
	}

	go e.run(context.WithoutCancel(ctx), state)

	return state.execution.ID, nil
}

// Cancel requests cooperative cancellation of an active execution. The node
// currently executing is allowed to finish; everything after it is not run.
func (e *Engine) Cancel(executionID, reason string) error {
	control, err := e.controlFor(executionID)
	if err != nil {
		return err
	}

	control.cancel(reason)

	return nil
}

// Pause suspends an active execution at the next node boundary.
func (e *Engine) Pause(executionID string) error {
	control, err := e.controlFor(executionID)
	if err != nil {
		return err
	}

	control.pause()

	return nil
}

// Resume continues a paused execution.
func (e *Engine) Resume(executionID string) error {
	control, err := e.controlFor(executionID)
	if err != nil {
		return err
	}

	return control.resume()
}

// ActiveExecutions returns the ids of executions currently running or paused.
func (e *Engine) ActiveExecutions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}

	return ids
}

func (e *Engine) prepare(ctx context.Context, workflow *models.Workflow, req models.ExecutionRequest) (*runState, error) {
	if err := e.Validate(ctx, workflow); err != nil {
		return nil, err
	}

	enabled, err := graph.SortEnabled(workflow)
	if err != nil {
		return nil, err
	}

	execution := &models.WorkflowExecution{
		ID:         uuid.NewString(),
		WorkflowID: workflow.ID,
		Status:     models.ExecutionStatusPending,
		StartedAt:  time.Now().UTC(),
		Progress: models.ExecutionProgress{
			TotalNodes: len(workflow.Nodes),
		},
		NodeSnapshots: make([]*models.NodeSnapshot, 0, len(workflow.Nodes)),
	}

	// Disabled nodes stay in the graph but never run; record them as
	// skipped up front so the execution record covers every node.
	for _, node := range workflow.Nodes {
		if node.Enabled {
			continue
		}

		execution.NodeSnapshots = append(execution.NodeSnapshots, &models.NodeSnapshot{
			NodeID:     node.ID,
			NodeName:   node.Name,
			Status:     models.NodeStatusSkipped,
			SkipReason: skipReasonNodeDisabled,
		})
	}

	execution.Progress.CompletedNodes = len(execution.NodeSnapshots)
	execution.Progress.OverallProgress = progressPercent(execution.Progress.CompletedNodes, execution.Progress.TotalNodes)

	state := &runState{
		workflow:  workflow,
		execution: execution,
		request:   req,
		order:     enabled,
		outputs:   make(map[string][]models.Segment, len(enabled)),
		control:   newRunControl(),
	}

	if err := e.persistence.ExecutionRepository().SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to persist execution record: %w", err)
	}

	e.mu.Lock()
	e.runs[execution.ID] = state.control
	e.mu.Unlock()

	return state, nil
}

func (e *Engine) controlFor(executionID string) (*runControl, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	control, ok := e.runs[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrExecutionNotActive)
	}

	return control, nil
}

func (e *Engine) release(executionID string) {
	e.mu.Lock()
	delete(e.runs, executionID)
	e.mu.Unlock()
}
