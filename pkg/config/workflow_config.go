// Package config provides YAML loading of workflow definitions for import
// and validation tooling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/weirlabs/weir/pkg/models"
)

// WorkflowFile represents the structure of a workflow definition YAML file.
type WorkflowFile struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Nodes       []NodeFile     `yaml:"nodes"`
	Edges       []EdgeFile     `yaml:"edges"`
	Settings    SettingsFile   `yaml:"settings"`
	IsActive    bool           `yaml:"is_active"`
	IsTemplate  bool           `yaml:"is_template"`
	Tags        []string       `yaml:"tags"`
	Metadata    map[string]any `yaml:"metadata"`
	Schedule    string         `yaml:"schedule"`
	Owner       string         `yaml:"owner"`
}

// NodeFile represents a node entry in the YAML file.
type NodeFile struct {
	ID           string            `yaml:"id"`
	Type         string            `yaml:"type"`
	Name         string            `yaml:"name"`
	Config       map[string]any    `yaml:"config"`
	Enabled      *bool             `yaml:"enabled"`
	InputSources []InputSourceFile `yaml:"input_sources"`
}

// EdgeFile represents an edge entry in the YAML file.
type EdgeFile struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// SettingsFile represents the execution settings in the YAML file.
type SettingsFile struct {
	ErrorHandling      string `yaml:"error_handling"`
	MaxRetries         int    `yaml:"max_retries"`
	ParallelExecution  bool   `yaml:"parallel_execution"`
	NotifyOnCompletion bool   `yaml:"notify_on_completion"`
	NotifyOnFailure    bool   `yaml:"notify_on_failure"`
}

// InputSourceFile represents an input source entry in the YAML file.
type InputSourceFile struct {
	Type   string        `yaml:"type"`
	NodeID string        `yaml:"node_id"`
	Data   []SegmentFile `yaml:"data"`
}

// SegmentFile represents a static segment payload in the YAML file.
type SegmentFile struct {
	ID       string         `yaml:"id"`
	Content  string         `yaml:"content"`
	Metadata map[string]any `yaml:"metadata"`
}

// LoadWorkflow loads one workflow definition from a YAML file. Nodes default
// to enabled and the error handling policy defaults to stop.
func LoadWorkflow(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	var file WorkflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}

	return file.toModel(), nil
}

// LoadWorkflows loads every *.yaml and *.yml workflow definition under dir,
// sorted by file name.
func LoadWorkflows(dir string) ([]*models.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow directory %s: %w", dir, err)
	}

	paths := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(paths)

	workflows := make([]*models.Workflow, 0, len(paths))

	for _, path := range paths {
		workflow, err := LoadWorkflow(path)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (f *WorkflowFile) toModel() *models.Workflow {
	workflow := &models.Workflow{
		Name:        f.Name,
		Description: f.Description,
		Nodes:       make([]*models.WorkflowNode, 0, len(f.Nodes)),
		Edges:       make([]*models.Edge, 0, len(f.Edges)),
		Settings: models.WorkflowSettings{
			ErrorHandling:      models.ErrorHandling(f.Settings.ErrorHandling),
			MaxRetries:         f.Settings.MaxRetries,
			ParallelExecution:  f.Settings.ParallelExecution,
			NotifyOnCompletion: f.Settings.NotifyOnCompletion,
			NotifyOnFailure:    f.Settings.NotifyOnFailure,
		},
		IsActive:   f.IsActive,
		IsTemplate: f.IsTemplate,
		Tags:       f.Tags,
		Metadata:   f.Metadata,
		Schedule:   f.Schedule,
		Owner:      f.Owner,
	}

	if workflow.Settings.ErrorHandling == "" {
		workflow.Settings.ErrorHandling = models.ErrorHandlingStop
	}

	for _, node := range f.Nodes {
		enabled := true
		if node.Enabled != nil {
			enabled = *node.Enabled
		}

		sources := make([]models.InputSource, 0, len(node.InputSources))

		for _, source := range node.InputSources {
			segments := make([]models.Segment, 0, len(source.Data))

			for _, segment := range source.Data {
				segments = append(segments, models.Segment{
					ID:       segment.ID,
					Content:  segment.Content,
					Metadata: segment.Metadata,
				})
			}

			sources = append(sources, models.InputSource{
				Type:   models.InputSourceType(source.Type),
				NodeID: source.NodeID,
				Data:   segments,
			})
		}

		workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{
			ID:           node.ID,
			Type:         node.Type,
			Name:         node.Name,
			Config:       node.Config,
			Enabled:      enabled,
			InputSources: sources,
		})
	}

	for _, edge := range f.Edges {
		workflow.Edges = append(workflow.Edges, &models.Edge{
			Source: edge.Source,
			Target: edge.Target,
		})
	}

	return workflow
}
