package filewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/protocol"
)

const StepType = "file_write"

const fileMode = 0o644

// Step writes segments to a file and passes them through unchanged. It is
// the reference implementation of the rollback contract: a compensating
// rollback removes the written file.
type Step struct{}

// rollbackData is what CreateRollbackData stores on a successful write.
type rollbackData struct {
	Path string `json:"path"`
}

func (s *Step) Execute(_ context.Context, input []models.Segment, config map[string]any, execCtx models.StepExecutionContext) (*models.StepExecutionResult, error) {
	started := time.Now()

	path, _ := config["path"].(string)
	if path == "" {
		return &models.StepExecutionResult{
			Success: false,
			Error:   "missing required field 'path'",
			Metrics: models.ExecutionMetrics{StepType: StepType},
		}, nil
	}

	format, _ := config["format"].(string)

	content, err := encode(input, format)
	if err != nil {
		return &models.StepExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("failed to encode segments: %v", err),
			Metrics: models.ExecutionMetrics{StepType: StepType},
		}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &models.StepExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("failed to create directory: %v", err),
			Metrics: models.ExecutionMetrics{StepType: StepType},
		}, nil
	}

	if err := os.WriteFile(path, content, fileMode); err != nil {
		return &models.StepExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("failed to write %s: %v", path, err),
			Metrics: models.ExecutionMetrics{StepType: StepType},
		}, nil
	}

	if execCtx.Logger != nil {
		execCtx.Logger.Info("Wrote segments to file", "path", path, "segments", len(input))
	}

	return &models.StepExecutionResult{
		Success:        true,
		OutputSegments: input,
		RollbackData:   rollbackData{Path: path},
		Metrics: models.ExecutionMetrics{
			StepType:    StepType,
			StepName:    "File Write",
			InputCount:  len(input),
			OutputCount: len(input),
			DurationMS:  time.Since(started).Milliseconds(),
		},
	}, nil
}

func encode(segments []models.Segment, format string) ([]byte, error) {
	if format == "json" {
		return json.MarshalIndent(segments, "", "  ")
	}

	var sb strings.Builder

	for _, segment := range segments {
		sb.WriteString(segment.Content)
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}

func (s *Step) Metadata() protocol.StepMetadata {
	return protocol.StepMetadata{
		Type:         StepType,
		Name:         "File Write",
		Description:  "Writes segments to a file and passes them through; supports compensating rollback",
		Version:      "1.0.0",
		InputTypes:   []string{"segments"},
		OutputTypes:  []string{"segments"},
		ConfigSchema: s.ConfigSchema(),
		Categories:   []string{"sink"},
	}
}

func (s *Step) FormatOutput(result *models.StepExecutionResult, _ []models.Segment) any {
	if result == nil {
		return nil
	}

	data, _ := result.RollbackData.(rollbackData)

	return map[string]any{
		"written": result.Metrics.OutputCount,
		"path":    data.Path,
	}
}

func (s *Step) Validate(config map[string]any) []string {
	problems := make([]string, 0)

	path, _ := config["path"].(string)
	if path == "" {
		problems = append(problems, "path is required")
	}

	if format, ok := config["format"].(string); ok && format != "" && format != "json" && format != "text" {
		problems = append(problems, fmt.Sprintf("format must be 'json' or 'text', got '%s'", format))
	}

	return problems
}

func (s *Step) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string"},
			"format": map[string]any{"type": "string", "enum": []string{"json", "text"}, "default": "text"},
		},
		"required": []string{"path"},
	}
}

// Rollback removes the file written by Execute. Missing files are treated as
// already rolled back.
func (s *Step) Rollback(_ context.Context, data any, execCtx models.StepExecutionContext) error {
	rb, ok := data.(rollbackData)
	if !ok {
		return fmt.Errorf("unexpected rollback data of type %T", data)
	}

	if err := os.Remove(rb.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", rb.Path, err)
	}

	if execCtx.Logger != nil {
		execCtx.Logger.Info("Rolled back file write", "path", rb.Path)
	}

	return nil
}

// CreateRollbackData returns the rollback payload from a successful result.
func (s *Step) CreateRollbackData(result *models.StepExecutionResult) any {
	if result == nil {
		return nil
	}

	return result.RollbackData
}
