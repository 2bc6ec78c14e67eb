package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/persistence/file"
)

type captureEnqueuer struct {
	mu       sync.Mutex
	requests []models.ExecutionRequest
}

func (c *captureEnqueuer) Enqueue(_ context.Context, req models.ExecutionRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)

	return nil
}

func (c *captureEnqueuer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.requests)
}

func testScheduler(t *testing.T) (*Scheduler, *file.Persistence, *captureEnqueuer) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	enqueuer := &captureEnqueuer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewScheduler(logger, store.WorkflowRepository(), enqueuer, time.Minute), store, enqueuer
}

func saveWorkflow(t *testing.T, store *file.Persistence, id, schedule string, active bool) {
	t.Helper()

	err := store.WorkflowRepository().SaveWorkflow(context.Background(), &models.Workflow{
		ID:       id,
		Name:     "Workflow " + id,
		IsActive: active,
		Schedule: schedule,
	})
	require.NoError(t, err)
}

func TestSyncRegistersActiveScheduledWorkflows(t *testing.T) {
	s, store, _ := testScheduler(t)

	saveWorkflow(t, store, "scheduled", "0 6 * * *", true)
	saveWorkflow(t, store, "inactive", "0 6 * * *", false)
	saveWorkflow(t, store, "no-schedule", "", true)
	saveWorkflow(t, store, "bad-schedule", "not a cron expr", true)

	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(s.Stop)

	assert.Equal(t, []string{"scheduled"}, s.ScheduledWorkflows())
}

func TestSyncDropsRemovedAndChangedSchedules(t *testing.T) {
	s, store, _ := testScheduler(t)

	saveWorkflow(t, store, "wf-a", "0 6 * * *", true)
	saveWorkflow(t, store, "wf-b", "0 7 * * *", true)

	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(s.Stop)

	require.Len(t, s.ScheduledWorkflows(), 2)

	// Deactivate one, reschedule the other.
	saveWorkflow(t, store, "wf-a", "0 6 * * *", false)
	saveWorkflow(t, store, "wf-b", "0 8 * * *", true)

	require.NoError(t, s.sync(context.Background()))

	assert.Equal(t, []string{"wf-b"}, s.ScheduledWorkflows())
	assert.Equal(t, "0 8 * * *", s.exprs["wf-b"])
}

func TestScheduledJobEnqueuesRequest(t *testing.T) {
	s, store, enqueuer := testScheduler(t)

	saveWorkflow(t, store, "wf-fire", "@every 1h", true)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(s.Stop)

	// Fire the job directly rather than waiting for the cron tick.
	s.jobFor("wf-fire")()

	require.Equal(t, 1, enqueuer.count())
	assert.Equal(t, "wf-fire", enqueuer.requests[0].WorkflowID)
	assert.Equal(t, "scheduler", enqueuer.requests[0].Metadata["triggered_by"])
}
