package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmemo/backend/pkg/models"
)

func testDef() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:      "memo",
		Version: 1,
		InputSchema: models.InputSchema{
			Order: []string{"question"},
			Fields: map[string]models.InputField{
				"question": {Type: models.FieldTypeText, Required: true},
			},
		},
		Phases: []models.PhaseSpec{{Index: 0, Name: "intake"}},
	}
}

func validIntake() map[string]interface{} {
	return map[string]interface{}{"question": "is the claim time-barred?"}
}

func TestMemoryRunStore_CreateRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()

	run, err := store.CreateRun(ctx, "matter-1", testDef(), validIntake())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, 0, run.CurrentPhase)
	assert.NotEmpty(t, run.ID)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
}

func TestMemoryRunStore_InvalidIntakePersistsNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()

	_, err := store.CreateRun(ctx, "matter-1", testDef(), map[string]interface{}{})
	var verr *models.InvalidIntakeError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Missing, "question")

	runs, err := store.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, runs, "no run may be persisted when intake validation fails")
}

func TestMemoryRunStore_AppendAndTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()
	run, err := store.CreateRun(ctx, "matter-1", testDef(), validIntake())
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, run.ID, models.RunStatusRunning, "", nil))
	require.NoError(t, store.AppendPhaseResult(ctx, run.ID, models.PhaseResult{PhaseIndex: 0, PhaseName: "intake", Status: models.PhaseStatusCompleted}))
	require.NoError(t, store.SetStatus(ctx, run.ID, models.RunStatusFailed, "boom", nil))

	err = store.AppendPhaseResult(ctx, run.ID, models.PhaseResult{PhaseIndex: 1})
	assert.ErrorIs(t, err, ErrRunTerminal)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.Len(t, got.Results, 1, "appended results survive the terminal transition")
}

func TestMemoryRunStore_StateMachineEnforced(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()
	run, err := store.CreateRun(ctx, "matter-1", testDef(), validIntake())
	require.NoError(t, err)

	err = store.SetStatus(ctx, run.ID, models.RunStatusCompleted, "", nil)
	var terr *InvalidTransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, models.RunStatusPending, terr.From)

	require.NoError(t, store.SetStatus(ctx, run.ID, models.RunStatusRunning, "", nil))
	require.NoError(t, store.SetStatus(ctx, run.ID, models.RunStatusNeedsInput, "", nil))
	require.NoError(t, store.SetStatus(ctx, run.ID, models.RunStatusRunning, "", nil))
	require.NoError(t, store.SetStatus(ctx, run.ID, models.RunStatusCompleted, "", nil))

	err = store.SetStatus(ctx, run.ID, models.RunStatusRunning, "", nil)
	assert.ErrorIs(t, err, ErrRunTerminal)
}

func TestMemoryRunStore_AdvancePhaseMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()
	run, err := store.CreateRun(ctx, "matter-1", testDef(), validIntake())
	require.NoError(t, err)

	require.NoError(t, store.AdvancePhase(ctx, run.ID, 2))
	assert.ErrorIs(t, store.AdvancePhase(ctx, run.ID, 1), ErrPhaseRegression)
	require.NoError(t, store.AdvancePhase(ctx, run.ID, 2), "same index is allowed")
}

func TestMemoryRunStore_ListRunsFiltersByMatter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()

	a, err := store.CreateRun(ctx, "matter-a", testDef(), validIntake())
	require.NoError(t, err)
	_, err = store.CreateRun(ctx, "matter-b", testDef(), validIntake())
	require.NoError(t, err)

	runs, err := store.ListRuns(ctx, "matter-a")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, a.ID, runs[0].ID)

	all, err := store.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryRunStore_GetRunReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()
	run, err := store.CreateRun(ctx, "matter-1", testDef(), validIntake())
	require.NoError(t, err)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	got.Status = models.RunStatusFailed

	again, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, again.Status)
}
