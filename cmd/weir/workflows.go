package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/weirlabs/weir/pkg/cmd"
	"github.com/weirlabs/weir/pkg/config"
	"github.com/weirlabs/weir/pkg/graph"
	"github.com/weirlabs/weir/pkg/log"
	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/registry"
	"github.com/weirlabs/weir/pkg/services"
)

// NewImportCommand imports YAML workflow definitions into persistence.
func NewImportCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import YAML workflow definitions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "file",
				Usage:   "Path to one workflow YAML file",
				Aliases: []string{"f"},
			},
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Directory of workflow YAML files",
				Aliases: []string{"d"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("weir-cli")

			workflows, err := loadDefinitions(command)
			if err != nil {
				return err
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			svc := services.NewWorkflow(persistence)

			for _, workflow := range workflows {
				created, err := svc.Create(ctx, workflow)
				if err != nil {
					return fmt.Errorf("failed to import workflow '%s': %w", workflow.Name, err)
				}

				logger.InfoContext(ctx, "Imported workflow", "id", created.ID, "name", created.Name)
			}

			return nil
		},
	}
}

// NewValidateCommand validates YAML workflow definitions without persisting
// them: graph structure plus every enabled node's step configuration.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate YAML workflow definitions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Usage:   "Path to one workflow YAML file",
				Aliases: []string{"f"},
			},
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Directory of workflow YAML files",
				Aliases: []string{"d"},
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing step plugins",
				Value:    "./plugins",
				Required: false,
				Sources:  cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("weir-cli")

			workflows, err := loadDefinitions(command)
			if err != nil {
				return err
			}

			reg := cmd.NewRegistry(ctx, logger, command.String("plugins-path"))

			for _, workflow := range workflows {
				if err := validateDefinition(ctx, reg, workflow); err != nil {
					return fmt.Errorf("workflow '%s' is invalid: %w", workflow.Name, err)
				}

				logger.InfoContext(ctx, "Workflow is valid", "name", workflow.Name, "nodes", len(workflow.Nodes))
			}

			return nil
		},
	}
}

func loadDefinitions(command *cli.Command) ([]*models.Workflow, error) {
	if dir := command.String("dir"); dir != "" {
		return config.LoadWorkflows(dir)
	}

	if file := command.String("file"); file != "" {
		workflow, err := config.LoadWorkflow(file)
		if err != nil {
			return nil, err
		}

		return []*models.Workflow{workflow}, nil
	}

	return nil, fmt.Errorf("either --file or --dir is required")
}

func validateDefinition(ctx context.Context, reg *registry.Registry, workflow *models.Workflow) error {
	if err := graph.Validate(workflow); err != nil {
		return err
	}

	for _, node := range workflow.EnabledNodes() {
		if _, err := reg.CreateAndValidate(ctx, node.Type, node.Config); err != nil {
			return fmt.Errorf("node '%s': %w", node.ID, err)
		}
	}

	return nil
}
