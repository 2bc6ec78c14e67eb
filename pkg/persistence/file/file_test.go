package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func sampleWorkflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		Name:        "content cleanup",
		Description: "strips markup from imported documents",
		Nodes: []*models.WorkflowNode{
			{ID: "n1", Type: "filter", Name: "strip html", Enabled: true},
		},
		Settings: models.WorkflowSettings{ErrorHandling: models.ErrorHandlingStop},
		IsActive: true,
	}
}

func TestWorkflowRepository_SaveAndLoad(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.WorkflowRepository()

	workflow := sampleWorkflow("wf-1")
	require.NoError(t, repo.SaveWorkflow(ctx, workflow))

	loaded, err := repo.WorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, "filter", loaded.Nodes[0].Type)
}

func TestWorkflowRepository_NotFound(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.WorkflowRepository().WorkflowByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_ListAndDelete(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.WorkflowRepository()

	require.NoError(t, repo.SaveWorkflow(ctx, sampleWorkflow("wf-1")))
	require.NoError(t, repo.SaveWorkflow(ctx, sampleWorkflow("wf-2")))

	workflows, err := repo.Workflows(ctx)
	require.NoError(t, err)
	assert.Len(t, workflows, 2)

	require.NoError(t, repo.DeleteWorkflow(ctx, "wf-1"))

	workflows, err = repo.Workflows(ctx)
	require.NoError(t, err)
	assert.Len(t, workflows, 1)

	err = repo.DeleteWorkflow(ctx, "wf-1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutionRepository_RoundTrip(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.ExecutionRepository()

	execution := &models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusCompleted,
		StartedAt:  time.Now().UTC(),
		NodeSnapshots: []*models.NodeSnapshot{
			{NodeID: "n1", NodeName: "strip html", Status: models.NodeStatusSucceeded},
		},
	}

	require.NoError(t, repo.SaveExecution(ctx, execution))

	loaded, err := repo.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
	require.Len(t, loaded.NodeSnapshots, 1)
}

func TestExecutionRepository_ListByWorkflowNewestFirst(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.ExecutionRepository()

	older := &models.WorkflowExecution{ID: "exec-old", WorkflowID: "wf-1", StartedAt: time.Now().Add(-time.Hour)}
	newer := &models.WorkflowExecution{ID: "exec-new", WorkflowID: "wf-1", StartedAt: time.Now()}
	other := &models.WorkflowExecution{ID: "exec-other", WorkflowID: "wf-2", StartedAt: time.Now()}

	require.NoError(t, repo.SaveExecution(ctx, older))
	require.NoError(t, repo.SaveExecution(ctx, newer))
	require.NoError(t, repo.SaveExecution(ctx, other))

	executions, err := repo.ExecutionsByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, "exec-new", executions[0].ID)
	assert.Equal(t, "exec-old", executions[1].ID)
}

func TestHealthCheck(t *testing.T) {
	p := newTestPersistence(t)
	assert.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence("/nonexistent/weir-test-root")
	assert.Error(t, missing.HealthCheck(context.Background()))
}
