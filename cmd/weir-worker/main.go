package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/weirlabs/weir/pkg/cmd"
	"github.com/weirlabs/weir/pkg/engine"
	"github.com/weirlabs/weir/pkg/log"
	"github.com/weirlabs/weir/pkg/notify"
	"github.com/weirlabs/weir/pkg/otelhelper"
	"github.com/weirlabs/weir/pkg/queue"
)

func main() {
	cmd := &cli.Command{
		Name:                  "weir-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that executes queued workflow runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the execution queue",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password for the execution queue",
				Value:   "",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Redis list key to consume execution requests from",
				Value:   queue.DefaultQueue,
				Sources: cli.EnvVars("QUEUE_KEY"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
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
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export execution spans over OTLP HTTP",
				Value:   false,
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("weir-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Weir Worker")

			registry := cmd.NewRegistry(ctx, logger, command.String("plugins-path"))

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger, "weir-worker")
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			executionQueue, err := queue.NewExecutionQueue(
				ctx,
				logger,
				command.String("redis-addr"),
				command.String("redis-password"),
				0,
				command.String("queue"),
			)
			if err != nil {
				return err
			}

			engineOpts := []engine.Option{
				engine.WithEventPublisher(eventBus),
				engine.WithNotifier(notify.NewEventBusNotifier(eventBus)),
			}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "weir-worker")
				if err != nil {
					return err
				}

				engineOpts = append(engineOpts, engine.WithTracer(tracer))
			}

			executionEngine := engine.NewEngine(logger, registry, persistence, engineOpts...)

			worker := NewWorker(workerID, logger, persistence, executionEngine, executionQueue)

			if err := worker.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Worker stopped with error", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
