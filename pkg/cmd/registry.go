// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"

	"github.com/weirlabs/weir/pkg/registry"
)

// NewRegistry builds a step registry with all native steps plus any .so
// plugins found under pluginsPath.
func NewRegistry(ctx context.Context, logger *slog.Logger, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultSteps()

	stepPlugins, err := reg.LoadStepPlugins(ctx, pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, plugin := range stepPlugins {
		reg.RegisterStep(plugin)
	}

	return reg
}
