// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/weirlabs/weir/pkg/models"

// CreateWorkflowRequest represents the request body for creating a workflow.
type CreateWorkflowRequest struct {
	Name        string                  `json:"name"        validate:"required,min=3"`
	Description string                  `json:"description"`
	Nodes       []*models.WorkflowNode  `json:"nodes"`
	Edges       []*models.Edge          `json:"edges"`
	Settings    models.WorkflowSettings `json:"settings"`
	IsActive    bool                    `json:"is_active"`
	IsTemplate  bool                    `json:"is_template"`
	Tags        []string                `json:"tags,omitempty"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
	Schedule    string                  `json:"schedule,omitempty"`
	Owner       string                  `json:"owner"       validate:"required"`
}

// UpdateWorkflowRequest represents the request body for updating a workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name        *string                  `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string                  `json:"description,omitempty"`
	Nodes       []*models.WorkflowNode   `json:"nodes,omitempty"`
	Edges       []*models.Edge           `json:"edges,omitempty"`
	Settings    *models.WorkflowSettings `json:"settings,omitempty"`
	IsActive    *bool                    `json:"is_active,omitempty"`
	Tags        []string                 `json:"tags,omitempty"`
	Metadata    map[string]any           `json:"metadata,omitempty"`
	Schedule    *string                  `json:"schedule,omitempty"`
}

// ExecuteWorkflowRequest represents the request body for launching an
// execution of a workflow.
type ExecuteWorkflowRequest struct {
	UserID     string         `json:"user_id,omitempty"`
	DatasetID  string         `json:"dataset_id,omitempty"`
	DocumentID string         `json:"document_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExecuteWorkflowResponse carries the id of the launched execution.
type ExecuteWorkflowResponse struct {
	ExecutionID string `json:"execution_id"`
}

// CancelExecutionRequest represents the request body for cancelling an
// execution.
type CancelExecutionRequest struct {
	Reason string `json:"reason,omitempty"`
}
