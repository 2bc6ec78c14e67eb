package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weirlabs/weir/pkg/engine"
	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/persistence/file"
	"github.com/weirlabs/weir/pkg/registry"
	"github.com/weirlabs/weir/pkg/services"
	"github.com/weirlabs/weir/pkg/web"
)

func stringPtr(s string) *string {
	return &s
}

func setupTestApp(t *testing.T) (*fiber.App, *services.Workflow) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())

	registryInstance := registry.NewRegistry(logger)
	registryInstance.RegisterDefaultSteps()

	workflowService := services.NewWorkflow(store)
	executionService := services.NewExecution(store, engine.NewEngine(logger, registryInstance, store))
	handlers := web.NewAPIHandlers(workflowService, executionService, validator.New(), registryInstance)

	app := fiber.New()

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Delete("/:id/nodes/:nodeId", handlers.DeleteWorkflowNode)
	w.Post("/:id/execute", handlers.ExecuteWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/pause", handlers.PauseExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)

	app.Get("/steps", handlers.GetSteps)
	app.Get("/health", handlers.HealthCheck)

	return app, workflowService
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer

	if body != nil {
		if str, ok := body.(string); ok {
			buf.WriteString(str)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var out T

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func annotateWorkflow(name string) web.CreateWorkflowRequest {
	return web.CreateWorkflowRequest{
		Name:  name,
		Owner: "test-user",
		Nodes: []*models.WorkflowNode{
			{ID: "note", Type: "annotate", Name: "Annotate", Enabled: true, Config: map[string]any{}},
		},
	}
}

func createWorkflow(t *testing.T, app *fiber.App, req web.CreateWorkflowRequest) *models.Workflow {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/workflows", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	workflow := decodeBody[models.Workflow](t, resp)

	return &workflow
}

func waitForTerminalExecution(t *testing.T, app *fiber.App, executionID string) models.WorkflowExecution {
	t.Helper()

	var execution models.WorkflowExecution

	require.Eventually(t, func() bool {
		resp := doJSON(t, app, http.MethodGet, "/executions/"+executionID, nil)

		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return false
		}

		var candidate models.WorkflowExecution
		if err := json.NewDecoder(resp.Body).Decode(&candidate); err != nil {
			return false
		}

		if !candidate.Status.Terminal() {
			return false
		}

		execution = candidate

		return true
	}, 5*time.Second, 20*time.Millisecond)

	return execution
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name:           "successful creation",
			requestBody:    annotateWorkflow("Ingest Pipeline"),
			expectedStatus: http.StatusCreated,
		},
		{
			name: "validation error - missing name",
			requestBody: web.CreateWorkflowRequest{
				Owner: "test-user",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - name too short",
			requestBody: web.CreateWorkflowRequest{
				Name:  "ab",
				Owner: "test-user",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - missing owner",
			requestBody: web.CreateWorkflowRequest{
				Name: "Ingest Pipeline",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "{not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp := doJSON(t, app, http.MethodPost, "/workflows", tt.requestBody)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				workflow := decodeBody[models.Workflow](t, resp)
				assert.NotEmpty(t, workflow.ID)
				assert.Equal(t, "Ingest Pipeline", workflow.Name)
				assert.Equal(t, "test-user", workflow.Owner)
				assert.Equal(t, models.ErrorHandlingStop, workflow.Settings.ErrorHandling)
			}
		})
	}
}

func TestAPIHandlers_GetWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, annotateWorkflow("Ingest Pipeline"))

	resp := doJSON(t, app, http.MethodGet, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fetched := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Len(t, fetched.Nodes, 1)

	missing := doJSON(t, app, http.MethodGet, "/workflows/no-such-id", nil)

	defer func() { _ = missing.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_ListWorkflows(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	createWorkflow(t, app, annotateWorkflow("Pipeline One"))
	createWorkflow(t, app, annotateWorkflow("Pipeline Two"))

	resp := doJSON(t, app, http.MethodGet, "/workflows/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listing := decodeBody[struct {
		Workflows []*models.Workflow `json:"workflows"`
		Count     int                `json:"count"`
	}](t, resp)

	assert.Equal(t, 2, listing.Count)
	assert.Len(t, listing.Workflows, 2)
}

func TestAPIHandlers_UpdateWorkflow(t *testing.T) {
	t.Parallel()

	t.Run("partial update keeps untouched fields", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t)
		created := createWorkflow(t, app, web.CreateWorkflowRequest{
			Name:        "Original Name",
			Description: "Original Description",
			Owner:       "test-user",
		})

		resp := doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID, web.UpdateWorkflowRequest{
			Name: stringPtr("Updated Name"),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		updated := decodeBody[models.Workflow](t, resp)
		assert.Equal(t, "Updated Name", updated.Name)
		assert.Equal(t, "Original Description", updated.Description)
		assert.Equal(t, "test-user", updated.Owner)
	})

	t.Run("workflow not found", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPatch, "/workflows/no-such-id", web.UpdateWorkflowRequest{
			Name: stringPtr("Updated Name"),
		})

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("name too short", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t)
		created := createWorkflow(t, app, annotateWorkflow("Ingest Pipeline"))

		resp := doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID, web.UpdateWorkflowRequest{
			Name: stringPtr("ab"),
		})

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("cyclic edges rejected", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t)
		created := createWorkflow(t, app, web.CreateWorkflowRequest{
			Name:  "Ingest Pipeline",
			Owner: "test-user",
			Nodes: []*models.WorkflowNode{
				{ID: "a", Type: "annotate", Name: "A", Enabled: true},
				{ID: "b", Type: "annotate", Name: "B", Enabled: true},
			},
		})

		resp := doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID, web.UpdateWorkflowRequest{
			Edges: []*models.Edge{
				{Source: "a", Target: "b"},
				{Source: "b", Target: "a"},
			},
		})

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPIHandlers_DeleteWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, annotateWorkflow("Ingest Pipeline"))

	resp := doJSON(t, app, http.MethodDelete, "/workflows/"+created.ID, nil)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	again := doJSON(t, app, http.MethodDelete, "/workflows/"+created.ID, nil)

	defer func() { _ = again.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, again.StatusCode)
}

func TestAPIHandlers_DeleteWorkflowNode(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, web.CreateWorkflowRequest{
		Name:  "Ingest Pipeline",
		Owner: "test-user",
		Nodes: []*models.WorkflowNode{
			{ID: "a", Type: "annotate", Name: "A", Enabled: true},
			{ID: "b", Type: "annotate", Name: "B", Enabled: true},
		},
		Edges: []*models.Edge{{Source: "a", Target: "b"}},
	})

	resp := doJSON(t, app, http.MethodDelete, "/workflows/"+created.ID+"/nodes/a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody[models.Workflow](t, resp)
	assert.Len(t, updated.Nodes, 1)
	assert.Empty(t, updated.Edges)

	missing := doJSON(t, app, http.MethodDelete, "/workflows/"+created.ID+"/nodes/no-such-node", nil)

	defer func() { _ = missing.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_ExecuteWorkflow(t *testing.T) {
	t.Parallel()

	t.Run("launch and observe completion", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t)
		created := createWorkflow(t, app, annotateWorkflow("Ingest Pipeline"))

		resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/execute", web.ExecuteWorkflowRequest{
			UserID: "user-1",
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		accepted := decodeBody[web.ExecuteWorkflowResponse](t, resp)
		require.NotEmpty(t, accepted.ExecutionID)

		execution := waitForTerminalExecution(t, app, accepted.ExecutionID)
		assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
		assert.Equal(t, created.ID, execution.WorkflowID)
		assert.Equal(t, 100, execution.Progress.OverallProgress)

		history := doJSON(t, app, http.MethodGet, "/workflows/"+created.ID+"/executions", nil)
		require.Equal(t, http.StatusOK, history.StatusCode)

		listing := decodeBody[struct {
			Executions []*models.WorkflowExecution `json:"executions"`
			Count      int                         `json:"count"`
		}](t, history)

		assert.Equal(t, 1, listing.Count)
	})

	t.Run("workflow not found", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/workflows/no-such-id/execute", nil)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown step type fails validation before any record exists", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t)
		created := createWorkflow(t, app, web.CreateWorkflowRequest{
			Name:  "Broken Pipeline",
			Owner: "test-user",
			Nodes: []*models.WorkflowNode{
				{ID: "x", Type: "no-such-step", Name: "X", Enabled: true},
			},
		})

		resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/execute", nil)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		history := doJSON(t, app, http.MethodGet, "/workflows/"+created.ID+"/executions", nil)
		require.Equal(t, http.StatusOK, history.StatusCode)

		listing := decodeBody[struct {
			Count int `json:"count"`
		}](t, history)

		assert.Equal(t, 0, listing.Count)
	})
}

func TestAPIHandlers_CancelExecution(t *testing.T) {
	t.Parallel()

	t.Run("unknown execution", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/executions/no-such-id/cancel", web.CancelExecutionRequest{Reason: "operator request"})

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("terminal execution conflicts", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t)
		created := createWorkflow(t, app, annotateWorkflow("Ingest Pipeline"))

		resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/execute", nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		accepted := decodeBody[web.ExecuteWorkflowResponse](t, resp)
		waitForTerminalExecution(t, app, accepted.ExecutionID)

		cancel := doJSON(t, app, http.MethodPost, "/executions/"+accepted.ExecutionID+"/cancel", web.CancelExecutionRequest{Reason: "too late"})

		defer func() { _ = cancel.Body.Close() }()

		assert.Equal(t, http.StatusConflict, cancel.StatusCode)
	})
}

func TestAPIHandlers_ResumeInactiveExecution(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/executions/no-such-id/resume", nil)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_GetSteps(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/steps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	palette := decodeBody[[]map[string]any](t, resp)
	require.Len(t, palette, 5)

	types := make([]string, 0, len(palette))
	for _, entry := range palette {
		stepType, _ := entry["type"].(string)
		types = append(types, stepType)
	}

	assert.Equal(t, []string{"annotate", "file_write", "filter", "http_fetch", "transform"}, types)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "healthy", health["status"])
}
