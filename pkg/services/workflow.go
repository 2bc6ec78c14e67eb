package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/weirlabs/weir/pkg/graph"
	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/persistence"
)

// Workflow is the application service for workflow definitions. Structural
// graph validation runs on every save so a broken graph never reaches the
// engine.
type Workflow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(store persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: store,
		validate:    validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := w.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns all workflows.
func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID returns one workflow by id.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// Create validates and stores a new workflow.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, NewValidationError("Create", "workflow payload is required", ErrWorkflowNil)
	}

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	if workflow.Settings.ErrorHandling == "" {
		workflow.Settings.ErrorHandling = models.ErrorHandlingStop
	}

	if err := w.validateWorkflow(workflow); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := w.persistence.WorkflowRepository().SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

// Update applies changes to an existing workflow and re-validates it.
func (w *Workflow) Update(ctx context.Context, id string, apply func(*models.Workflow)) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	apply(workflow)
	workflow.ID = id

	if err := w.validateWorkflow(workflow); err != nil {
		return nil, err
	}

	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

// Delete removes a workflow by id.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	return w.persistence.WorkflowRepository().DeleteWorkflow(ctx, id)
}

// DeleteNode removes a node from a workflow and cascades deletion of edges
// touching it and of input sources referencing it.
func (w *Workflow) DeleteNode(ctx context.Context, workflowID, nodeID string) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.NodeByID(nodeID) == nil {
		return nil, &ServiceError{Op: "DeleteNode", Message: "node " + nodeID + " not found", Err: ErrNodeNotFound}
	}

	nodes := make([]*models.WorkflowNode, 0, len(workflow.Nodes)-1)

	for _, node := range workflow.Nodes {
		if node.ID == nodeID {
			continue
		}

		sources := make([]models.InputSource, 0, len(node.InputSources))

		for _, source := range node.InputSources {
			if source.Type == models.InputSourcePreviousNode && source.NodeID == nodeID {
				continue
			}

			sources = append(sources, source)
		}

		node.InputSources = sources
		nodes = append(nodes, node)
	}

	edges := make([]*models.Edge, 0, len(workflow.Edges))

	for _, edge := range workflow.Edges {
		if edge.Source == nodeID || edge.Target == nodeID {
			continue
		}

		edges = append(edges, edge)
	}

	workflow.Nodes = nodes
	workflow.Edges = edges
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

func (w *Workflow) validateWorkflow(workflow *models.Workflow) error {
	if err := w.validate.Struct(workflow); err != nil {
		return NewValidationError("Validate", err.Error(), ErrInvalidRequest)
	}

	if err := graph.Validate(workflow); err != nil {
		return &ServiceError{Op: "Validate", Message: err.Error(), Err: ErrInvalidGraph}
	}

	return nil
}
