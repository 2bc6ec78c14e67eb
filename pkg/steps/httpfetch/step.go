package httpfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/protocol"
)

const StepType = "http_fetch"

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 16 << 20 // 16 MiB
)

// Step fetches content segments from an external HTTP collaborator (document
// store, AI provider gateway). The response is the step's output payload; the
// engine never interprets its shape.
type Step struct {
	client *http.Client
}

func NewStep() *Step {
	return &Step{client: &http.Client{Timeout: defaultTimeout}}
}

func (s *Step) Execute(ctx context.Context, input []models.Segment, config map[string]any, execCtx models.StepExecutionContext) (*models.StepExecutionResult, error) {
	started := time.Now()

	endpoint, _ := config["url"].(string)
	if endpoint == "" {
		return failedResult("missing required field 'url'"), nil
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return failedResult(fmt.Sprintf("failed to build request: %v", err)), nil
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if str, ok := value.(string); ok {
				req.Header.Set(key, str)
			}
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return failedResult(fmt.Sprintf("request failed: %v", err)), nil
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && execCtx.Logger != nil {
			execCtx.Logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failedResult(fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, endpoint)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return failedResult(fmt.Sprintf("failed to read response: %v", err)), nil
	}

	mode, _ := config["mode"].(string)

	segments, err := decodeSegments(body, mode)
	if err != nil {
		return failedResult(err.Error()), nil
	}

	// Fetched segments are appended after any upstream input.
	output := make([]models.Segment, 0, len(input)+len(segments))
	output = append(output, input...)
	output = append(output, segments...)

	return &models.StepExecutionResult{
		Success:        true,
		OutputSegments: output,
		Metrics: models.ExecutionMetrics{
			StepType:    StepType,
			StepName:    "HTTP Fetch",
			InputCount:  len(input),
			OutputCount: len(output),
			DurationMS:  time.Since(started).Milliseconds(),
		},
		Count:      len(segments),
		TotalCount: len(output),
	}, nil
}

// decodeSegments turns a response body into segments: "json" expects an array
// of strings or {id, content} objects, "lines" splits on newlines, anything
// else yields one raw segment.
func decodeSegments(body []byte, mode string) ([]models.Segment, error) {
	switch mode {
	case "json":
		var raw []json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("response is not a JSON array: %w", err)
		}

		segments := make([]models.Segment, 0, len(raw))

		for i, item := range raw {
			var str string
			if err := json.Unmarshal(item, &str); err == nil {
				segments = append(segments, models.Segment{Content: str})

				continue
			}

			var segment models.Segment
			if err := json.Unmarshal(item, &segment); err != nil {
				return nil, fmt.Errorf("element %d is neither a string nor a segment object", i)
			}

			segments = append(segments, segment)
		}

		return segments, nil
	case "lines":
		lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
		segments := make([]models.Segment, 0, len(lines))

		for _, line := range lines {
			segments = append(segments, models.Segment{Content: line})
		}

		return segments, nil
	default:
		return []models.Segment{{Content: string(body)}}, nil
	}
}

func (s *Step) Metadata() protocol.StepMetadata {
	return protocol.StepMetadata{
		Type:         StepType,
		Name:         "HTTP Fetch",
		Description:  "Fetches content segments from an external HTTP endpoint",
		Version:      "1.0.0",
		InputTypes:   []string{"segments"},
		OutputTypes:  []string{"segments"},
		ConfigSchema: s.ConfigSchema(),
		Categories:   []string{"source"},
	}
}

func (s *Step) FormatOutput(result *models.StepExecutionResult, _ []models.Segment) any {
	if result == nil {
		return nil
	}

	return map[string]any{
		"fetched": result.Count,
		"total":   result.TotalCount,
	}
}

func (s *Step) Validate(config map[string]any) []string {
	problems := make([]string, 0)

	endpoint, _ := config["url"].(string)
	if endpoint == "" {
		problems = append(problems, "url is required")
	} else if parsed, err := url.Parse(endpoint); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		problems = append(problems, fmt.Sprintf("url '%s' is not an absolute URL", endpoint))
	}

	if mode, ok := config["mode"].(string); ok && mode != "" && mode != "json" && mode != "lines" && mode != "raw" {
		problems = append(problems, fmt.Sprintf("mode must be 'json', 'lines' or 'raw', got '%s'", mode))
	}

	return problems
}

func (s *Step) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "format": "uri"},
			"method":  map[string]any{"type": "string", "enum": []string{"GET", "POST"}, "default": "GET"},
			"headers": map[string]any{"type": "object"},
			"mode":    map[string]any{"type": "string", "enum": []string{"json", "lines", "raw"}, "default": "raw"},
		},
		"required": []string{"url"},
	}
}

func failedResult(message string) *models.StepExecutionResult {
	return &models.StepExecutionResult{
		Success: false,
		Error:   message,
		Metrics: models.ExecutionMetrics{StepType: StepType},
	}
}
