// Package scheduler enqueues execution requests for active workflows that
// carry a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/persistence"
)

const defaultRefreshInterval = 30 * time.Second

// Enqueuer hands a scheduled execution request to the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req models.ExecutionRequest) error
}

// Scheduler keeps one cron entry per active scheduled workflow and refreshes
// the entry set periodically so workflow changes are picked up without a
// restart.
type Scheduler struct {
	logger    *slog.Logger
	workflows persistence.WorkflowRepository
	enqueuer  Enqueuer
	refresh   time.Duration

	cron  *cron.Cron
	mu    sync.Mutex
	jobs  map[string]cron.EntryID
	exprs map[string]string
}

func NewScheduler(logger *slog.Logger, workflows persistence.WorkflowRepository, enqueuer Enqueuer, refresh time.Duration) *Scheduler {
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}

	return &Scheduler{
		logger:    logger.With("module", "scheduler"),
		workflows: workflows,
		enqueuer:  enqueuer,
		refresh:   refresh,
		jobs:      make(map[string]cron.EntryID),
		exprs:     make(map[string]string),
	}
}

// Start syncs the entry set, starts the cron loop and refreshes entries until
// the context ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if err := s.sync(ctx); err != nil {
		return fmt.Errorf("initial schedule sync failed: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "refresh_interval", s.refresh)

	go func() {
		ticker := time.NewTicker(s.refresh)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.sync(ctx); err != nil {
					s.logger.ErrorContext(ctx, "Schedule sync failed", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// sync reconciles cron entries against the current workflow set: new or
// re-scheduled active workflows get entries, everything else is dropped.
func (s *Scheduler) sync(ctx context.Context) error {
	workflows, err := s.workflows.Workflows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	desired := make(map[string]string)

	for _, workflow := range workflows {
		if !workflow.IsActive || workflow.Schedule == "" {
			continue
		}

		if _, err := cron.ParseStandard(workflow.Schedule); err != nil {
			s.logger.WarnContext(ctx, "Skipping workflow with invalid schedule",
				"workflow_id", workflow.ID,
				"schedule", workflow.Schedule,
				"error", err,
			)

			continue
		}

		desired[workflow.ID] = workflow.Schedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for workflowID, entryID := range s.jobs {
		if expr, keep := desired[workflowID]; keep && expr == s.exprs[workflowID] {
			continue
		}

		s.cron.Remove(entryID)
		delete(s.jobs, workflowID)
		delete(s.exprs, workflowID)
	}

	for workflowID, expr := range desired {
		if _, exists := s.jobs[workflowID]; exists {
			continue
		}

		entryID, err := s.cron.AddFunc(expr, s.jobFor(workflowID))
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to register schedule",
				"workflow_id", workflowID,
				"schedule", expr,
				"error", err,
			)

			continue
		}

		s.jobs[workflowID] = entryID
		s.exprs[workflowID] = expr

		s.logger.InfoContext(ctx, "Registered workflow schedule",
			"workflow_id", workflowID,
			"schedule", expr,
		)
	}

	return nil
}

func (s *Scheduler) jobFor(workflowID string) func() {
	return func() {
		ctx := context.Background()

		req := models.ExecutionRequest{
			WorkflowID: workflowID,
			Metadata: map[string]any{
				"triggered_by": "scheduler",
				"scheduled_at": time.Now().UTC().Format(time.RFC3339),
			},
		}

		if err := s.enqueuer.Enqueue(ctx, req); err != nil {
			s.logger.ErrorContext(ctx, "Failed to enqueue scheduled execution",
				"workflow_id", workflowID,
				"error", err,
			)

			return
		}

		s.logger.InfoContext(ctx, "Enqueued scheduled execution", "workflow_id", workflowID)
	}
}

// ScheduledWorkflows returns the workflow ids currently carrying cron entries.
func (s *Scheduler) ScheduledWorkflows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}

	return ids
}
