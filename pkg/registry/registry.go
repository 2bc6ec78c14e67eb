// Package registry provides step factory registration and instantiation.
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"
	"strings"

	"github.com/weirlabs/weir/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// UnknownStepTypeError indicates no step factory is registered for a type string.
type UnknownStepTypeError struct {
	StepType string
}

func (e *UnknownStepTypeError) Error() string {
	return fmt.Sprintf("step type '%s' not registered", e.StepType)
}

// InvalidConfigError carries the collected validation problems for a step
// configuration. Raised before any execution is attempted.
type InvalidConfigError struct {
	StepType string
	Problems []string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for step '%s': %s", e.StepType, strings.Join(e.Problems, "; "))
}

// Registry maps step type strings to factories. Populated by the surrounding
// application at startup.
type Registry struct {
	logger        *slog.Logger
	stepFactories map[string]protocol.StepFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger,
		stepFactories: make(map[string]protocol.StepFactory),
	}
}

func (r *Registry) RegisterStep(factory protocol.StepFactory) {
	r.stepFactories[factory.ID()] = factory
}

// Create instantiates a fresh step for the given type. Instances are
// independent; two Create calls return two distinct steps with identical
// metadata.
func (r *Registry) Create(ctx context.Context, stepType string) (protocol.Step, error) {
	factory, ok := r.stepFactories[stepType]
	if !ok {
		return nil, &UnknownStepTypeError{StepType: stepType}
	}

	return factory.Create(ctx)
}

// CreateAndValidate instantiates a step and, when it implements the
// configurable capability, validates the given config against the step's own
// Validate and its JSON schema. All problems are collected into a single
// InvalidConfigError.
func (r *Registry) CreateAndValidate(ctx context.Context, stepType string, config map[string]any) (protocol.Step, error) {
	step, err := r.Create(ctx, stepType)
	if err != nil {
		return nil, err
	}

	configurable, ok := step.(protocol.Configurable)
	if !ok {
		return step, nil
	}

	problems := configurable.Validate(config)

	if schema := configurable.ConfigSchema(); schema != nil {
		schemaProblems, err := validateAgainstSchema(schema, config)
		if err != nil {
			r.logger.Warn("Failed to evaluate config schema", "step_type", stepType, "error", err)
		} else {
			problems = append(problems, schemaProblems...)
		}
	}

	if len(problems) > 0 {
		return nil, &InvalidConfigError{StepType: stepType, Problems: problems}
	}

	return step, nil
}

// StepTypes returns the registered type strings, sorted.
func (r *Registry) StepTypes() []string {
	types := make([]string, 0, len(r.stepFactories))

	for stepType := range r.stepFactories {
		types = append(types, stepType)
	}

	sort.Strings(types)

	return types
}

// StepMetadata returns the metadata of every registered step, sorted by type.
// Used by the API to serve the step palette.
func (r *Registry) StepMetadata(ctx context.Context) ([]protocol.StepMetadata, error) {
	metadata := make([]protocol.StepMetadata, 0, len(r.stepFactories))

	for _, stepType := range r.StepTypes() {
		step, err := r.stepFactories[stepType].Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to instantiate step '%s': %w", stepType, err)
		}

		metadata = append(metadata, step.Metadata())
	}

	return metadata, nil
}

func (r *Registry) HealthCheck() (string, bool) {
	if len(r.stepFactories) == 0 {
		return "No step factories registered", false
	}

	return fmt.Sprintf("%d step factories registered", len(r.stepFactories)), true
}

func validateAgainstSchema(schema map[string]any, config map[string]any) ([]string, error) {
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return nil, err
	}

	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		problems = append(problems, resultError.String())
	}

	return problems, nil
}

// LoadStepPlugins loads step factories from .so files under pluginsPath/steps.
func (r *Registry) LoadStepPlugins(ctx context.Context, pluginsPath string) ([]protocol.StepFactory, error) {
	return loadPlugin[protocol.StepFactory](r.logger, pluginsPath, "Step")
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("failed to look up symbol %s in %s: %w", symbolName, p, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s does not export a %s factory", p, symbolName)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded step plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
