package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/dispatcher"
	"github.com/dukex/drip/pkg/engine"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence/memory"
	"github.com/dukex/drip/pkg/services"
	"github.com/dukex/drip/pkg/testutil"
	"github.com/dukex/drip/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const company = "company-1"

type noopScheduler struct{}

func (noopScheduler) ScheduleResume(context.Context, string, string, time.Time) error { return nil }
func (noopScheduler) Deregister(context.Context, string, string) error { return nil }

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	logger := slog.Default()
	store := memory.NewPersistence()
	canceller := engine.New(logger, store, nil, nil, noopScheduler{})

	// executions stay pending so the tests can inspect them
	d := dispatcher.New(logger, store, func(context.Context, string, string) error { return nil })

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(logger, store, canceller),
		services.NewExecution(logger, store, canceller),
		services.NewEvents(logger, services.NewDispatchSink(d), store),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	return web.NewApp(handlers), store
}

func do(t *testing.T, app *fiber.App, method, path string, body any, target any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.CompanyHeader, company)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}

	return resp.StatusCode
}

func welcomeRequest() web.WorkflowRequest {
	wf := testutil.WelcomeWorkflow(company, "template")

	return web.WorkflowRequest{Name: "Welcome series", Nodes: wf.Nodes, Connections: wf.Connections}
}

func TestAPIHandlers_RequiresCompany(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_Root(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Drip API", string(body))

	req = httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIHandlers_Health(t *testing.T) {
	app, _ := setupTestApp(t)

	var body map[string]any
	status := do(t, app, http.MethodGet, "/health", nil, &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	app, _ := setupTestApp(t)

	var draft models.Workflow
	status := do(t, app, http.MethodPost, "/workflows", web.WorkflowRequest{Name: "Empty draft"}, &draft)
	require.Equal(t, http.StatusCreated, status)
	assert.False(t, draft.IsActive)

	var problem web.ValidationProblem
	status = do(t, app, http.MethodPost, "/workflows/"+draft.ID+"/activate", nil, &problem)
	require.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, problem.Issues)

	status = do(t, app, http.MethodPost, "/workflows", web.WorkflowRequest{Name: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var created models.Workflow
	status = do(t, app, http.MethodPost, "/workflows", welcomeRequest(), &created)
	require.Equal(t, http.StatusCreated, status)

	var activated models.Workflow
	status = do(t, app, http.MethodPost, "/workflows/"+created.ID+"/activate", nil, &activated)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, activated.IsActive)

	update := welcomeRequest()
	update.Name = "Welcome series v2"

	var updated models.Workflow
	status = do(t, app, http.MethodPut, "/workflows/"+created.ID, update, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Welcome series v2", updated.Name)

	var list struct {
		Workflows  []*models.Workflow `json:"workflows"`
		TotalCount int                `json:"total_count"`
	}
	status = do(t, app, http.MethodGet, "/workflows", nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, list.TotalCount)

	var deactivated models.Workflow
	status = do(t, app, http.MethodPost, "/workflows/"+created.ID+"/deactivate", nil, &deactivated)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, deactivated.IsActive)

	status = do(t, app, http.MethodGet, "/workflows/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_EventsCreateExecutions(t *testing.T) {
	app, _ := setupTestApp(t)

	var created models.Workflow
	require.Equal(t, http.StatusCreated, do(t, app, http.MethodPost, "/workflows", welcomeRequest(), &created))
	require.Equal(t, http.StatusOK, do(t, app, http.MethodPost, "/workflows/"+created.ID+"/activate", nil, nil))

	event := web.EventRequest{
		ID:        "evt-1",
		Kind:      string(models.EventContactCreated),
		SubjectID: "contact-ana",
		Payload:   map[string]string{"first_name": "Ana"},
	}

	var accepted web.AcceptedResponse
	status := do(t, app, http.MethodPost, "/events", event, &accepted)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "evt-1", accepted.EventID)

	// a redelivery of the same event is deduplicated
	require.Equal(t, http.StatusAccepted, do(t, app, http.MethodPost, "/events", event, nil))

	var executions web.ExecutionsResponse
	status = do(t, app, http.MethodGet, "/workflows/"+created.ID+"/executions", nil, &executions)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, executions.Count)
	assert.Equal(t, "contact-ana", executions.Executions[0].ContactID)

	var view models.StatsView
	require.Equal(t, http.StatusOK, do(t, app, http.MethodGet, "/workflows/"+created.ID+"/stats", nil, &view))
	assert.Equal(t, int64(1), view.TotalRuns)

	executionID := executions.Executions[0].ID

	var cancelled models.WorkflowExecution
	status = do(t, app, http.MethodPost, "/executions/"+executionID+"/cancel", nil, &cancelled)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.ExecutionCancelled, cancelled.Status)

	var fetched models.WorkflowExecution
	require.Equal(t, http.StatusOK, do(t, app, http.MethodGet, "/executions/"+executionID, nil, &fetched))
	assert.Equal(t, models.ExecutionCancelled, fetched.Status)

	status = do(t, app, http.MethodGet, "/workflows/"+created.ID+"/executions?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = do(t, app, http.MethodGet, "/executions/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status = do(t, app, http.MethodPost, "/events", web.EventRequest{Kind: "contact.deleted", SubjectID: "contact-ana"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_RunAndDelete(t *testing.T) {
	app, store := setupTestApp(t)
	ctx := context.Background()

	manual := testutil.NewWorkflow(company, "manual",
		[]*models.WorkflowNode{
			testutil.Trigger("trigger", models.EventManual),
			testutil.Action("tag", models.ActionAddTag, map[string]any{"tagName": "Imported"}),
		},
		testutil.Connect("trigger", "tag"),
	)
	require.NoError(t, store.SaveWorkflow(ctx, manual))

	welcome := testutil.WelcomeWorkflow(company, "welcome")
	require.NoError(t, store.SaveWorkflow(ctx, welcome))

	status := do(t, app, http.MethodPost, "/workflows/welcome/run", web.RunWorkflowRequest{SubjectID: "contact-1"}, nil)
	assert.Equal(t, http.StatusConflict, status)

	var accepted web.AcceptedResponse
	status = do(t, app, http.MethodPost, "/workflows/manual/run", web.RunWorkflowRequest{SubjectID: "contact-1"}, &accepted)
	require.Equal(t, http.StatusAccepted, status)
	assert.NotEmpty(t, accepted.EventID)

	var deleted web.DeleteWorkflowResponse
	status = do(t, app, http.MethodDelete, "/workflows/manual", nil, &deleted)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, deleted.CancelledExecutions)

	status = do(t, app, http.MethodGet, "/workflows/manual", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
