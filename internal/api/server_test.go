package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmemo/backend/internal/engine"
	"lexmemo/backend/internal/logging"
	"lexmemo/backend/internal/registry"
	"lexmemo/backend/internal/repository"
	"lexmemo/backend/pkg/models"
)

type stubRetriever struct{}

func (stubRetriever) Search(ctx context.Context, query string, topK int) ([]models.SourceChunk, error) {
	return nil, nil
}

type stubGenerator struct{}

func (stubGenerator) Complete(ctx context.Context, prompt string, contextChunks []models.SourceChunk) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T) (*echo.Echo, *Server) {
	t.Helper()
	store := repository.NewMemoryRunStore()
	reg := registry.New()
	require.NoError(t, reg.Register(engine.ResearchMemoWorkflow()))
	reg.Freeze()

	eng := engine.New(store, reg, stubRetriever{}, stubGenerator{}, logging.NewLogger(), engine.Options{})
	srv := NewServer(eng, store, reg, logging.NewLogger())

	e := echo.New()
	srv.RegisterRoutes(e.Group("/api/v1"))
	e.GET("/healthz", srv.HandleHealth)
	return e, srv
}

func doJSON(e *echo.Echo, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func validIntake() map[string]interface{} {
	return map[string]interface{}{
		"research_question": "Is the fraud claim time-barred?",
		"jurisdictions":     []interface{}{"State X"},
		"court_level":       "trial",
		"matter_posture":    "motion_to_dismiss",
		"known_facts":       "The plaintiff alleges a concealed defect discovered in March 2023, with the underlying sale closing in 2019 and the complaint filed in early 2024.",
	}
}

func createRun(t *testing.T, e *echo.Echo) models.WorkflowRun {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		MatterID:   "matter-1",
		WorkflowID: engine.ResearchMemoWorkflowID,
		Intake:     validIntake(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	return run
}

func TestCreateRun_Created(t *testing.T) {
	e, _ := newTestServer(t)
	run := createRun(t, e)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, 0, run.CurrentPhase)
	assert.Equal(t, "IRAC", run.Intake["memo_format"], "schema default is applied")
}

func TestCreateRun_InvalidIntakeIsProblemJSON(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		MatterID:   "matter-1",
		WorkflowID: engine.ResearchMemoWorkflowID,
		Intake:     map[string]interface{}{"research_question": "q"},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")
	assert.Contains(t, rec.Body.String(), "jurisdictions")
}

func TestCreateRun_MissingIdentifiers(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/runs", CreateRunRequest{Intake: validIntake()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRun_UnknownWorkflow(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		MatterID:   "matter-1",
		WorkflowID: "no_such_workflow",
		Intake:     validIntake(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")
}

func TestListRuns_FiltersByMatter(t *testing.T) {
	e, _ := newTestServer(t)
	createRun(t, e)

	rec := doJSON(e, http.MethodGet, "/api/v1/runs?matter_id=matter-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rec = doJSON(e, http.MethodGet, "/api/v1/runs?matter_id=other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Empty(t, runs)
}

func TestResumeRun_NotParked(t *testing.T) {
	e, _ := newTestServer(t)
	run := createRun(t, e)

	rec := doJSON(e, http.MethodPost, "/api/v1/runs/"+run.ID+"/resume", ResumeRunRequest{
		Input: map[string]interface{}{"decision": "approved"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRun(t *testing.T) {
	e, _ := newTestServer(t)
	run := createRun(t, e)

	rec := doJSON(e, http.MethodPost, "/api/v1/runs/"+run.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "cancelled", got.Error)

	rec = doJSON(e, http.MethodPost, "/api/v1/runs/"+run.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "terminal runs cannot be cancelled again")
}

func TestExportRun_BeforeGateIsConflict(t *testing.T) {
	e, _ := newTestServer(t)
	run := createRun(t, e)

	rec := doJSON(e, http.MethodGet, "/api/v1/runs/"+run.ID+"/export", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "verification gate")
}

func TestListWorkflows(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), engine.ResearchMemoWorkflowID)
}

func TestHandleHealth(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
