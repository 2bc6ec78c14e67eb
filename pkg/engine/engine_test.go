package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weirlabs/weir/pkg/graph"
	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/persistence/file"
	"github.com/weirlabs/weir/pkg/protocol"
	"github.com/weirlabs/weir/pkg/registry"
)

type stubStep struct {
	execute func(input []models.Segment) (*models.StepExecutionResult, error)
}

func (s *stubStep) Execute(_ context.Context, input []models.Segment, _ map[string]any, _ models.StepExecutionContext) (*models.StepExecutionResult, error) {
	return s.execute(input)
}

func (s *stubStep) Metadata() protocol.StepMetadata {
	return protocol.StepMetadata{Type: "stub", Name: "Stub", Version: "1.0.0"}
}

func (s *stubStep) FormatOutput(result *models.StepExecutionResult, _ []models.Segment) any {
	return map[string]any{"count": len(result.OutputSegments)}
}

type stubFactory struct {
	id     string
	create func() protocol.Step
}

func (f *stubFactory) Create(_ context.Context) (protocol.Step, error) {
	return f.create(), nil
}

func (f *stubFactory) ID() string {
	return f.id
}

type rollbackStub struct {
	stubStep

	onRollback func(data any) error
}

func (s *rollbackStub) Rollback(_ context.Context, data any, _ models.StepExecutionContext) error {
	return s.onRollback(data)
}

func (s *rollbackStub) CreateRollbackData(result *models.StepExecutionResult) any {
	return result.RollbackData
}

func passThrough(input []models.Segment) (*models.StepExecutionResult, error) {
	return &models.StepExecutionResult{Success: true, OutputSegments: input}, nil
}

func alwaysFail(_ []models.Segment) (*models.StepExecutionResult, error) {
	return &models.StepExecutionResult{Success: false, Error: "boom"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T, factories []protocol.StepFactory, opts ...Option) *Engine {
	t.Helper()

	reg := registry.NewRegistry(testLogger())
	for _, factory := range factories {
		reg.RegisterStep(factory)
	}

	store := file.NewPersistence(t.TempDir())

	return NewEngine(testLogger(), reg, store, opts...)
}

func linearWorkflow(errorHandling models.ErrorHandling) *models.Workflow {
	return &models.Workflow{
		ID:   "wf-1",
		Name: "Linear workflow",
		Nodes: []*models.WorkflowNode{
			{ID: "a", Type: "pass", Name: "A", Enabled: true},
			{ID: "b", Type: "fail", Name: "B", Enabled: true},
			{ID: "c", Type: "pass", Name: "C", Enabled: true},
		},
		Edges: []*models.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
		},
		Settings: models.WorkflowSettings{ErrorHandling: errorHandling},
	}
}

func statusOf(execution *models.WorkflowExecution, nodeID string) models.NodeStatus {
	snapshot := execution.SnapshotFor(nodeID)
	if snapshot == nil {
		return ""
	}

	return snapshot.Status
}

func TestExecuteStopPolicy(t *testing.T) {
	factories := []protocol.StepFactory{
		&stubFactory{id: "pass", create: func() protocol.Step { return &stubStep{execute: passThrough} }},
		&stubFactory{id: "fail", create: func() protocol.Step { return &stubStep{execute: alwaysFail} }},
	}
	e := testEngine(t, factories)

	execution, err := e.Execute(context.Background(), linearWorkflow(models.ErrorHandlingStop), models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.NodeStatusSucceeded, statusOf(execution, "a"))
	assert.Equal(t, models.NodeStatusFailed, statusOf(execution, "b"))
	assert.Equal(t, models.NodeStatusSkipped, statusOf(execution, "c"))
	assert.Equal(t, "upstream stop", execution.SnapshotFor("c").SkipReason)
	assert.Contains(t, execution.Error, "node b failed")
	assert.Contains(t, execution.SnapshotFor("b").Error, "boom")
	assert.Equal(t, 100, execution.Progress.OverallProgress)
	assert.Equal(t, 3, execution.Progress.CompletedNodes)
	require.NotNil(t, execution.CompletedAt)
}

func TestExecuteContinuePolicy(t *testing.T) {
	var downstreamInput atomic.Int64
	downstreamInput.Store(-1)

	factories := []protocol.StepFactory{
		&stubFactory{id: "pass", create: func() protocol.Step {
			return &stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
				downstreamInput.Store(int64(len(input)))

				out := append([]models.Segment{}, input...)
				out = append(out, models.Segment{Content: "produced"})

				return &models.StepExecutionResult{Success: true, OutputSegments: out}, nil
			}}
		}},
		&stubFactory{id: "fail", create: func() protocol.Step { return &stubStep{execute: alwaysFail} }},
	}
	e := testEngine(t, factories)

	execution, err := e.Execute(context.Background(), linearWorkflow(models.ErrorHandlingContinue), models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, models.NodeStatusSucceeded, statusOf(execution, "a"))
	assert.Equal(t, models.NodeStatusFailed, statusOf(execution, "b"))
	assert.Equal(t, models.NodeStatusSucceeded, statusOf(execution, "c"))

	// The failed node contributes an empty sequence downstream.
	assert.Equal(t, int64(0), downstreamInput.Load())
}

func TestValidationFailsFast(t *testing.T) {
	executed := atomic.Int64{}
	factories := []protocol.StepFactory{
		&stubFactory{id: "pass", create: func() protocol.Step {
			return &stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
				executed.Add(1)

				return passThrough(input)
			}}
		}},
	}
	e := testEngine(t, factories)

	t.Run("unknown step type", func(t *testing.T) {
		workflow := &models.Workflow{
			ID:    "wf-unknown",
			Name:  "Unknown step",
			Nodes: []*models.WorkflowNode{{ID: "x", Type: "nonexistent_step", Name: "X", Enabled: true}},
		}

		_, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
		require.Error(t, err)

		var unknownErr *registry.UnknownStepTypeError

		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, "nonexistent_step", unknownErr.StepType)

		var nodeErr *NodeConfigError

		require.ErrorAs(t, err, &nodeErr)
		assert.Equal(t, "x", nodeErr.NodeID)
	})

	t.Run("cyclic graph", func(t *testing.T) {
		workflow := &models.Workflow{
			ID:   "wf-cycle",
			Name: "Cyclic workflow",
			Nodes: []*models.WorkflowNode{
				{ID: "a", Type: "pass", Name: "A", Enabled: true},
				{ID: "b", Type: "pass", Name: "B", Enabled: true},
			},
			Edges: []*models.Edge{
				{Source: "a", Target: "b"},
				{Source: "b", Target: "a"},
			},
		}

		_, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})

		var cyclicErr *graph.CyclicGraphError

		require.ErrorAs(t, err, &cyclicErr)
	})

	assert.Equal(t, int64(0), executed.Load(), "no node may execute after a validation failure")
}

func TestRetryPolicyRecovers(t *testing.T) {
	attempts := atomic.Int64{}
	factories := []protocol.StepFactory{
		&stubFactory{id: "flaky", create: func() protocol.Step {
			return &stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
				if attempts.Add(1) < 3 {
					return nil, errors.New("transient failure")
				}

				return passThrough(input)
			}}
		}},
	}
	e := testEngine(t, factories)

	workflow := &models.Workflow{
		ID:       "wf-retry",
		Name:     "Retrying workflow",
		Nodes:    []*models.WorkflowNode{{ID: "f", Type: "flaky", Name: "Flaky", Enabled: true}},
		Settings: models.WorkflowSettings{ErrorHandling: models.ErrorHandlingRetry, MaxRetries: 3},
	}

	execution, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, int64(3), attempts.Load())
}

func TestRetryExhaustionDegradesToStop(t *testing.T) {
	attempts := atomic.Int64{}
	factories := []protocol.StepFactory{
		&stubFactory{id: "fail", create: func() protocol.Step {
			return &stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
				attempts.Add(1)

				return alwaysFail(input)
			}}
		}},
	}
	e := testEngine(t, factories)

	workflow := &models.Workflow{
		ID:       "wf-exhaust",
		Name:     "Exhausting workflow",
		Nodes:    []*models.WorkflowNode{{ID: "f", Type: "fail", Name: "Fail", Enabled: true}},
		Settings: models.WorkflowSettings{ErrorHandling: models.ErrorHandlingRetry, MaxRetries: 1},
	}

	execution, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, int64(2), attempts.Load(), "one initial attempt plus one retry")
}

func TestRollbackOnStopFailure(t *testing.T) {
	var (
		mu         sync.Mutex
		rolledBack []any
	)

	factories := []protocol.StepFactory{
		&stubFactory{id: "sink", create: func() protocol.Step {
			return &rollbackStub{
				stubStep: stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
					return &models.StepExecutionResult{Success: true, OutputSegments: input, RollbackData: "written-file"}, nil
				}},
				onRollback: func(data any) error {
					mu.Lock()
					rolledBack = append(rolledBack, data)
					mu.Unlock()

					return nil
				},
			}
		}},
		&stubFactory{id: "fail", create: func() protocol.Step { return &stubStep{execute: alwaysFail} }},
	}
	e := testEngine(t, factories)

	workflow := &models.Workflow{
		ID:   "wf-rollback",
		Name: "Rollback workflow",
		Nodes: []*models.WorkflowNode{
			{ID: "sink", Type: "sink", Name: "Sink", Enabled: true},
			{ID: "boom", Type: "fail", Name: "Boom", Enabled: true},
		},
		Edges:    []*models.Edge{{Source: "sink", Target: "boom"}},
		Settings: models.WorkflowSettings{ErrorHandling: models.ErrorHandlingStop},
	}

	execution, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, []any{"written-file"}, rolledBack)
	assert.False(t, execution.SnapshotFor("sink").RollbackFailed)
}

func TestRollbackFailureIsRecorded(t *testing.T) {
	factories := []protocol.StepFactory{
		&stubFactory{id: "sink", create: func() protocol.Step {
			return &rollbackStub{
				stubStep: stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
					return &models.StepExecutionResult{Success: true, RollbackData: "data"}, nil
				}},
				onRollback: func(any) error { return errors.New("rollback exploded") },
			}
		}},
		&stubFactory{id: "fail", create: func() protocol.Step { return &stubStep{execute: alwaysFail} }},
	}
	e := testEngine(t, factories)

	workflow := &models.Workflow{
		ID:   "wf-rbfail",
		Name: "Rollback failure workflow",
		Nodes: []*models.WorkflowNode{
			{ID: "sink", Type: "sink", Name: "Sink", Enabled: true},
			{ID: "boom", Type: "fail", Name: "Boom", Enabled: true},
		},
		Edges:    []*models.Edge{{Source: "sink", Target: "boom"}},
		Settings: models.WorkflowSettings{ErrorHandling: models.ErrorHandlingStop},
	}

	execution, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.True(t, execution.SnapshotFor("sink").RollbackFailed)
	// The sink itself still succeeded; only its compensation failed.
	assert.Equal(t, models.NodeStatusSucceeded, statusOf(execution, "sink"))
}

func TestParallelContinuePolicy(t *testing.T) {
	factories := []protocol.StepFactory{
		&stubFactory{id: "pass", create: func() protocol.Step { return &stubStep{execute: passThrough} }},
		&stubFactory{id: "fail", create: func() protocol.Step { return &stubStep{execute: alwaysFail} }},
	}
	e := testEngine(t, factories)

	workflow := &models.Workflow{
		ID:   "wf-parallel",
		Name: "Independent branches",
		Nodes: []*models.WorkflowNode{
			{ID: "a", Type: "pass", Name: "A", Enabled: true},
			{ID: "b", Type: "fail", Name: "B", Enabled: true},
			{ID: "c", Type: "pass", Name: "C", Enabled: true},
		},
		Settings: models.WorkflowSettings{
			ErrorHandling:     models.ErrorHandlingContinue,
			ParallelExecution: true,
		},
	}

	execution, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, models.NodeStatusSucceeded, statusOf(execution, "a"))
	assert.Equal(t, models.NodeStatusFailed, statusOf(execution, "b"))
	assert.Equal(t, models.NodeStatusSucceeded, statusOf(execution, "c"))
	assert.Len(t, execution.NodeSnapshots, 3)
}

func TestInputSources(t *testing.T) {
	var (
		mu       sync.Mutex
		captured []string
	)

	factories := []protocol.StepFactory{
		&stubFactory{id: "produce", create: func() protocol.Step {
			return &stubStep{execute: func([]models.Segment) (*models.StepExecutionResult, error) {
				return &models.StepExecutionResult{
					Success:        true,
					OutputSegments: []models.Segment{{Content: "from-upstream"}},
				}, nil
			}}
		}},
		&stubFactory{id: "capture", create: func() protocol.Step {
			return &stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
				mu.Lock()
				for _, segment := range input {
					captured = append(captured, segment.Content)
				}
				mu.Unlock()

				return &models.StepExecutionResult{Success: true, OutputSegments: input}, nil
			}}
		}},
	}
	e := testEngine(t, factories)

	workflow := &models.Workflow{
		ID:   "wf-inputs",
		Name: "Input source workflow",
		Nodes: []*models.WorkflowNode{
			{ID: "up", Type: "produce", Name: "Upstream", Enabled: true},
			{
				ID:      "down",
				Type:    "capture",
				Name:    "Downstream",
				Enabled: true,
				InputSources: []models.InputSource{
					{Type: models.InputSourcePreviousNode, NodeID: "up"},
					{Type: models.InputSourceStatic, Data: []models.Segment{{Content: "static-data"}}},
					{Type: models.InputSourceExternal},
				},
			},
		},
		Edges: []*models.Edge{{Source: "up", Target: "down"}},
	}

	execution, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	// Declared source order: predecessor output first, then static payload.
	assert.Equal(t, []string{"from-upstream", "static-data"}, captured)
}

func TestCancelBetweenNodes(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	factories := []protocol.StepFactory{
		&stubFactory{id: "slow", create: func() protocol.Step {
			return &stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
				close(started)
				<-release

				return passThrough(input)
			}}
		}},
		&stubFactory{id: "pass", create: func() protocol.Step { return &stubStep{execute: passThrough} }},
	}
	e := testEngine(t, factories)

	workflow := &models.Workflow{
		ID:   "wf-cancel",
		Name: "Cancelled workflow",
		Nodes: []*models.WorkflowNode{
			{ID: "slow", Type: "slow", Name: "Slow", Enabled: true},
			{ID: "after", Type: "pass", Name: "After", Enabled: true},
		},
		Edges: []*models.Edge{{Source: "slow", Target: "after"}},
	}

	executionID, err := e.Start(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	<-started
	require.NoError(t, e.Cancel(executionID, "operator request"))
	close(release)

	execution := waitForTerminal(t, e, executionID)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, "operator request", execution.CancelReason)
	// The in-flight node was allowed to finish; the next one never ran.
	assert.Equal(t, models.NodeStatusSucceeded, statusOf(execution, "slow"))
	assert.Equal(t, models.NodeStatusCancelled, statusOf(execution, "after"))
}

func TestPauseAndResume(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	factories := []protocol.StepFactory{
		&stubFactory{id: "slow", create: func() protocol.Step {
			return &stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
				close(started)
				<-release

				return passThrough(input)
			}}
		}},
		&stubFactory{id: "pass", create: func() protocol.Step { return &stubStep{execute: passThrough} }},
	}
	e := testEngine(t, factories)

	workflow := &models.Workflow{
		ID:   "wf-pause",
		Name: "Paused workflow",
		Nodes: []*models.WorkflowNode{
			{ID: "slow", Type: "slow", Name: "Slow", Enabled: true},
			{ID: "after", Type: "pass", Name: "After", Enabled: true},
		},
		Edges: []*models.Edge{{Source: "slow", Target: "after"}},
	}

	executionID, err := e.Start(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	<-started
	require.NoError(t, e.Pause(executionID))
	close(release)

	waitForStatus(t, e, executionID, models.ExecutionStatusPaused)

	require.NoError(t, e.Resume(executionID))

	execution := waitForTerminal(t, e, executionID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, models.NodeStatusSucceeded, statusOf(execution, "after"))
}

func TestResumeWithoutPause(t *testing.T) {
	e := testEngine(t, nil)

	err := e.Resume("missing")
	assert.ErrorIs(t, err, ErrExecutionNotActive)

	err = e.Cancel("missing", "reason")
	assert.ErrorIs(t, err, ErrExecutionNotActive)
}

func TestEmptyWorkflowCompletes(t *testing.T) {
	e := testEngine(t, nil)

	workflow := &models.Workflow{ID: "wf-empty", Name: "Empty workflow"}

	execution, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 100, execution.Progress.OverallProgress)
	assert.Empty(t, execution.NodeSnapshots)
}

func TestDisabledNodesAreNotExecuted(t *testing.T) {
	executed := atomic.Int64{}
	factories := []protocol.StepFactory{
		&stubFactory{id: "pass", create: func() protocol.Step {
			return &stubStep{execute: func(input []models.Segment) (*models.StepExecutionResult, error) {
				executed.Add(1)

				return passThrough(input)
			}}
		}},
	}
	e := testEngine(t, factories)

	workflow := &models.Workflow{
		ID:   "wf-disabled",
		Name: "Partially disabled",
		Nodes: []*models.WorkflowNode{
			{ID: "on", Type: "pass", Name: "On", Enabled: true},
			{ID: "off", Type: "pass", Name: "Off", Enabled: false},
		},
	}

	execution, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, int64(1), executed.Load())
	assert.Equal(t, 2, execution.Progress.TotalNodes)
	assert.Equal(t, 2, execution.Progress.CompletedNodes)
	assert.Equal(t, 100, execution.Progress.OverallProgress)

	// The disabled node stays in the record with a skipped snapshot
	// instead of disappearing from the execution entirely.
	skipped := execution.SnapshotFor("off")
	require.NotNil(t, skipped)
	assert.Equal(t, models.NodeStatusSkipped, skipped.Status)
	assert.Equal(t, "node disabled", skipped.SkipReason)
}

type recordingNotifier struct {
	completed chan string
	failed    chan string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		completed: make(chan string, 1),
		failed:    make(chan string, 1),
	}
}

func (n *recordingNotifier) ExecutionCompleted(_ context.Context, execution *models.WorkflowExecution) error {
	n.completed <- execution.ID

	return nil
}

func (n *recordingNotifier) ExecutionFailed(_ context.Context, execution *models.WorkflowExecution) error {
	n.failed <- execution.ID

	return nil
}

func TestNotifierInvocation(t *testing.T) {
	notifier := newRecordingNotifier()
	factories := []protocol.StepFactory{
		&stubFactory{id: "fail", create: func() protocol.Step { return &stubStep{execute: alwaysFail} }},
	}
	e := testEngine(t, factories, WithNotifier(notifier))

	workflow := &models.Workflow{
		ID:    "wf-notify",
		Name:  "Notifying workflow",
		Nodes: []*models.WorkflowNode{{ID: "f", Type: "fail", Name: "Fail", Enabled: true}},
		Settings: models.WorkflowSettings{
			ErrorHandling:   models.ErrorHandlingStop,
			NotifyOnFailure: true,
		},
	}

	execution, err := e.Execute(context.Background(), workflow, models.ExecutionRequest{})
	require.NoError(t, err)

	select {
	case id := <-notifier.failed:
		assert.Equal(t, execution.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("failure notification was never delivered")
	}
}

func waitForTerminal(t *testing.T, e *Engine, executionID string) *models.WorkflowExecution {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		execution, err := e.persistence.ExecutionRepository().ExecutionByID(context.Background(), executionID)
		if err == nil && execution.Status.Terminal() {
			return execution
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("execution %s never reached a terminal status", executionID)

	return nil
}

func waitForStatus(t *testing.T, e *Engine, executionID string, status models.ExecutionStatus) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		execution, err := e.persistence.ExecutionRepository().ExecutionByID(context.Background(), executionID)
		if err == nil && execution.Status == status {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("execution %s never reached status %s", executionID, status)
}
