// Package models defines the core domain models for the weir pipeline engine.
package models

import "time"

// ErrorHandling controls how a node failure affects the rest of the run.
type ErrorHandling string

const (
	ErrorHandlingStop     ErrorHandling = "stop"     // First failure fails the whole execution
	ErrorHandlingContinue ErrorHandling = "continue" // Failures are recorded, independent branches proceed
	ErrorHandlingRetry    ErrorHandling = "retry"    // Failing nodes are retried up to MaxRetries
)

// WorkflowSettings holds execution policy for a workflow.
type WorkflowSettings struct {
	ErrorHandling      ErrorHandling `json:"error_handling"`
	MaxRetries         int           `json:"max_retries"`
	ParallelExecution  bool          `json:"parallel_execution"`
	NotifyOnCompletion bool          `json:"notify_on_completion"`
	NotifyOnFailure    bool          `json:"notify_on_failure"`
}

// Edge connects two nodes in the workflow graph. The edge set must be acyclic.
type Edge struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// Workflow is a directed graph of processing steps owned by a user.
type Workflow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	Nodes       []*WorkflowNode  `json:"nodes"`
	Edges       []*Edge          `json:"edges"`
	Settings    WorkflowSettings `json:"settings"`
	IsActive    bool             `json:"is_active"`
	IsTemplate  bool             `json:"is_template"`
	Tags        []string         `json:"tags,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Schedule    string           `json:"schedule,omitempty"` // Optional cron expression
	Owner       string           `json:"owner"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// EnabledNodes returns the nodes that take part in execution.
func (w *Workflow) EnabledNodes() []*WorkflowNode {
	enabled := make([]*WorkflowNode, 0, len(w.Nodes))

	for _, node := range w.Nodes {
		if node.Enabled {
			enabled = append(enabled, node)
		}
	}

	return enabled
}
