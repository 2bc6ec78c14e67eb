// Package main provides the Weir scheduler that enqueues workflow runs on
// their cron schedules.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/weirlabs/weir/pkg/cmd"
	"github.com/weirlabs/weir/pkg/log"
	"github.com/weirlabs/weir/pkg/queue"
	"github.com/weirlabs/weir/pkg/scheduler"
)

const defaultRefreshSeconds = 30

func main() {
	cmd := &cli.Command{
		Name:                  "weir-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Enqueue scheduled workflow runs on their cron expressions",
		Flags: []cli.Flag{
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
				Usage:   "Redis list key to enqueue execution requests on",
				Value:   queue.DefaultQueue,
				Sources: cli.EnvVars("QUEUE_KEY"),
			},
			&cli.IntFlag{
				Name:    "refresh-interval",
				Usage:   "Seconds between workflow schedule re-syncs",
				Value:   defaultRefreshSeconds,
				Sources: cli.EnvVars("REFRESH_INTERVAL"),
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

			logger := log.WithModule("weir-scheduler")

			logger.InfoContext(ctx, "Initializing Weir Scheduler")

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

			refresh := time.Duration(command.Int("refresh-interval")) * time.Second

			sched := scheduler.NewScheduler(
				logger,
				persistence.WorkflowRepository(),
				executionQueue,
				refresh,
			)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sched.Start(ctx); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Scheduler started")

			<-ctx.Done()

			logger.Info("Shutting down scheduler")
			sched.Stop()

			return executionQueue.Stop()
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
