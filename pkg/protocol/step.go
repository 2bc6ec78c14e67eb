// Package protocol defines the interfaces and contracts for pluggable pipeline steps.
package protocol

import (
	"context"

	"github.com/weirlabs/weir/pkg/models"
)

// StepMetadata is the static descriptor of a step type, used by the step
// palette and by the registry. Pure data, no side effects.
type StepMetadata struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Version      string         `json:"version"`
	InputTypes   []string       `json:"input_types,omitempty"`
	OutputTypes  []string       `json:"output_types,omitempty"`
	ConfigSchema map[string]any `json:"config_schema,omitempty"`
	Categories   []string       `json:"categories,omitempty"`
}

// Step is the uniform contract every pipeline step implements.
//
// Execute must not return a Go error for expected, validatable failures;
// those come back as Success=false with Error set on the result. A returned
// Go error is treated by the engine as a node-level failure equivalent to
// Success=false.
type Step interface {
	// Execute runs the step against the input segments. The input shape is
	// passed through unchanged to keep the engine step-agnostic.
	Execute(ctx context.Context, input []models.Segment, config map[string]any, execCtx models.StepExecutionContext) (*models.StepExecutionResult, error)

	// Metadata returns the static descriptor for this step type.
	Metadata() StepMetadata

	// FormatOutput projects a result into a display-ready value. The engine
	// stores the projection alongside raw metrics and never interprets the
	// output segments itself.
	FormatOutput(result *models.StepExecutionResult, originalInput []models.Segment) any
}

// Configurable is the optional capability for steps whose configuration can
// be validated before execution.
type Configurable interface {
	// Validate returns the collected configuration problems, empty when the
	// config is acceptable.
	Validate(config map[string]any) []string

	// ConfigSchema returns the JSON schema for this step's configuration.
	ConfigSchema() map[string]any
}

// Rollbackable is the optional capability for steps with side effects that
// can be compensated.
type Rollbackable interface {
	// Rollback undoes the step's side effects using data produced by
	// CreateRollbackData. A rollback failure is recorded, never retried.
	Rollback(ctx context.Context, data any, execCtx models.StepExecutionContext) error

	// CreateRollbackData extracts whatever the step needs to compensate a
	// successful run. The value is opaque to the engine.
	CreateRollbackData(result *models.StepExecutionResult) any
}

// StepFactory creates step instances and identifies the step type.
type StepFactory interface {
	// Create creates a fresh step instance. Instances are independent; the
	// registry never caches them.
	Create(ctx context.Context) (Step, error)

	// ID returns the unique type string for this step.
	ID() string
}
