// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/google/uuid"

	"github.com/weirlabs/weir/pkg/models"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:        uuid.New().String(),
		Type:      "annotate",
		Name:      "Test Node",
		Config:    map[string]any{},
		Enabled:   true,
		PositionX: 100,
		PositionY: 200,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node id.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Name = name
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config = config
	}
}

// WithEnabled sets the node enabled status.
func WithEnabled(enabled bool) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Enabled = enabled
	}
}

// WithInputSources sets the node input sources.
func WithInputSources(sources ...models.InputSource) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.InputSources = sources
	}
}

// CreateTestWorkflow creates a workflow with default values that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:    uuid.New().String(),
		Name:  "Test Workflow",
		Owner: "test-user",
		Settings: models.WorkflowSettings{
			ErrorHandling: models.ErrorHandlingStop,
		},
		IsActive: true,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithNodes sets the workflow nodes.
func WithNodes(nodes ...*models.WorkflowNode) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Nodes = nodes
	}
}

// WithEdges sets the workflow edges.
func WithEdges(edges ...*models.Edge) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Edges = edges
	}
}

// WithSettings sets the workflow execution settings.
func WithSettings(settings models.WorkflowSettings) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Settings = settings
	}
}

// WithSchedule sets the workflow cron schedule.
func WithSchedule(schedule string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Schedule = schedule
	}
}

// Edge creates an edge between two node ids.
func Edge(source, target string) *models.Edge {
	return &models.Edge{Source: source, Target: target}
}

// Segments builds segments from plain content strings.
func Segments(contents ...string) []models.Segment {
	segments := make([]models.Segment, 0, len(contents))

	for _, content := range contents {
		segments = append(segments, models.Segment{Content: content})
	}

	return segments
}
