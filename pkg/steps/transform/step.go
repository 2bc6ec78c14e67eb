package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/protocol"
	"github.com/weirlabs/weir/pkg/template"
)

const StepType = "transform"

// Step rewrites each segment's content through a Go template expression. The
// expression sees the segment fields and the execution context.
type Step struct{}

func (s *Step) Execute(_ context.Context, input []models.Segment, config map[string]any, execCtx models.StepExecutionContext) (*models.StepExecutionResult, error) {
	started := time.Now()

	expression, ok := config["expression"].(string)
	if !ok || expression == "" {
		return &models.StepExecutionResult{
			Success: false,
			Error:   "missing required field 'expression'",
			Metrics: models.ExecutionMetrics{StepType: StepType},
		}, nil
	}

	output := make([]models.Segment, 0, len(input))
	warnings := make([]string, 0)

	for _, segment := range input {
		rendered, err := template.RenderSegment(expression, segment, execCtx)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("segment %s: %v", segment.ID, err))

			// Transformation failures pass the segment through unchanged.
			output = append(output, segment)

			continue
		}

		segment.Content = rendered
		output = append(output, segment)
	}

	return &models.StepExecutionResult{
		Success:        true,
		OutputSegments: output,
		Warnings:       warnings,
		Metrics: models.ExecutionMetrics{
			StepType:    StepType,
			StepName:    "Transform",
			InputCount:  len(input),
			OutputCount: len(output),
			DurationMS:  time.Since(started).Milliseconds(),
		},
		Count:      len(output),
		TotalCount: len(input),
	}, nil
}

func (s *Step) Metadata() protocol.StepMetadata {
	return protocol.StepMetadata{
		Type:         StepType,
		Name:         "Transform",
		Description:  "Rewrites segment content using Go template expressions with access to the execution context",
		Version:      "1.0.0",
		InputTypes:   []string{"segments"},
		OutputTypes:  []string{"segments"},
		ConfigSchema: s.ConfigSchema(),
		Categories:   []string{"transformation"},
	}
}

func (s *Step) FormatOutput(result *models.StepExecutionResult, _ []models.Segment) any {
	if result == nil {
		return nil
	}

	return map[string]any{
		"transformed": len(result.OutputSegments),
		"warnings":    len(result.Warnings),
	}
}

func (s *Step) Validate(config map[string]any) []string {
	expression, ok := config["expression"].(string)
	if !ok || expression == "" {
		return []string{"expression is required"}
	}

	if err := template.Check(expression); err != nil {
		return []string{fmt.Sprintf("invalid expression: %v", err)}
	}

	return nil
}

func (s *Step) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Go template expression applied to each segment. Sees .content, .id, .metadata and .execution.",
				"examples": []string{
					`{{.content | upper}}`,
					`{{.content | trim}}`,
					`[{{.execution.dataset_id}}] {{.content}}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}
