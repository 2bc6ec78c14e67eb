// Package annotate provides a pass-through step that logs segment traffic.
package annotate

import (
	"context"
	"time"

	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/protocol"
)

const StepType = "annotate"

// Step logs a configurable message with segment counts and passes its input
// through unchanged. Useful for observing traffic between pipeline stages.
type Step struct{}

func (s *Step) Execute(_ context.Context, input []models.Segment, config map[string]any, execCtx models.StepExecutionContext) (*models.StepExecutionResult, error) {
	started := time.Now()

	message, _ := config["message"].(string)
	if message == "" {
		message = "segments passing through"
	}

	if execCtx.Logger != nil {
		execCtx.Logger.Info(message, "segments", len(input), "execution_id", execCtx.ExecutionID)
	}

	return &models.StepExecutionResult{
		Success:        true,
		OutputSegments: input,
		Metrics: models.ExecutionMetrics{
			StepType:    StepType,
			StepName:    "Annotate",
			InputCount:  len(input),
			OutputCount: len(input),
			DurationMS:  time.Since(started).Milliseconds(),
		},
	}, nil
}

func (s *Step) Metadata() protocol.StepMetadata {
	return protocol.StepMetadata{
		Type:         StepType,
		Name:         "Annotate",
		Description:  "Logs a message with segment counts and passes segments through unchanged",
		Version:      "1.0.0",
		InputTypes:   []string{"segments"},
		OutputTypes:  []string{"segments"},
		ConfigSchema: s.ConfigSchema(),
		Categories:   []string{"observability"},
	}
}

func (s *Step) FormatOutput(result *models.StepExecutionResult, _ []models.Segment) any {
	if result == nil {
		return nil
	}

	return map[string]any{"segments": result.Metrics.OutputCount}
}

func (s *Step) Validate(_ map[string]any) []string {
	return nil
}

func (s *Step) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	}
}
