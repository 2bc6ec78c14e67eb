package models

import "log/slog"

// StepExecutionContext is the ambient data handed to a step invocation. It is
// created fresh per node invocation and never persisted.
type StepExecutionContext struct {
	ExecutionID      string         `json:"execution_id"`
	PipelineConfigID string         `json:"pipeline_config_id,omitempty"`
	DocumentID       string         `json:"document_id,omitempty"`
	DatasetID        string         `json:"dataset_id,omitempty"`
	UserID           string         `json:"user_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	Logger *slog.Logger `json:"-"`
}

// WithLogger returns a copy of the context carrying the given logger.
func (c StepExecutionContext) WithLogger(logger *slog.Logger) StepExecutionContext {
	c.Logger = logger

	return c
}
