// Package template provides templating for dynamic step configuration and
// segment transformation.
package template

import (
	"strings"
	"text/template"
	"time"

	"github.com/weirlabs/weir/pkg/models"
)

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"title": strings.Title, //nolint:staticcheck // ASCII-only content titles
	"trim":  strings.TrimSpace,
	"now":   func() string { return time.Now().UTC().Format(time.RFC3339) },
}

// Check parses an expression without executing it.
func Check(expression string) error {
	_, err := template.New("expression").Funcs(funcs).Parse(expression)

	return err
}

// Render evaluates a Go template expression against arbitrary data.
func Render(expression string, data any) (string, error) {
	tmpl, err := template.New("expression").Funcs(funcs).Parse(expression)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", err
	}

	return out.String(), nil
}

// RenderSegment evaluates an expression against one segment, exposing the
// segment fields and the execution context.
func RenderSegment(expression string, segment models.Segment, execCtx models.StepExecutionContext) (string, error) {
	data := map[string]any{
		"content":  segment.Content,
		"id":       segment.ID,
		"metadata": segment.Metadata,
		"execution": map[string]any{
			"id":          execCtx.ExecutionID,
			"user_id":     execCtx.UserID,
			"dataset_id":  execCtx.DatasetID,
			"document_id": execCtx.DocumentID,
		},
	}

	return Render(expression, data)
}
