package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"lexmemo/backend/pkg/models"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debug(msg string, args ...interface{}) { l.t.Logf("DEBUG: "+msg, args...) }
func (l testLogger) Info(msg string, args ...interface{})  { l.t.Logf("INFO: "+msg, args...) }
func (l testLogger) Error(msg string, args ...interface{}) { l.t.Logf("ERROR: "+msg, args...) }

func TestPostgresRunStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresRunStore(pool, testLogger{t})
	require.NoError(t, store.Migrate(ctx))

	t.Run("CreateAndGet", func(t *testing.T) {
		run, err := store.CreateRun(ctx, "matter-pg", testDef(), validIntake())
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusPending, run.Status)

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "matter-pg", got.MatterID)
		assert.Equal(t, "is the claim time-barred?", got.Intake["question"])
	})

	t.Run("InvalidIntakePersistsNothing", func(t *testing.T) {
		before, err := store.ListRuns(ctx, "matter-invalid")
		require.NoError(t, err)

		_, err = store.CreateRun(ctx, "matter-invalid", testDef(), map[string]interface{}{})
		var verr *models.InvalidIntakeError
		require.True(t, errors.As(err, &verr))

		after, err := store.ListRuns(ctx, "matter-invalid")
		require.NoError(t, err)
		assert.Equal(t, len(before), len(after))
	})

	t.Run("AppendOrderPreserved", func(t *testing.T) {
		run, err := store.CreateRun(ctx, "matter-order", testDef(), validIntake())
		require.NoError(t, err)

		require.NoError(t, store.SetStatus(ctx, run.ID, models.RunStatusRunning, "", nil))
		require.NoError(t, store.AppendPhaseResult(ctx, run.ID, models.PhaseResult{
			PhaseIndex: 0, PhaseName: "intake", Status: models.PhaseStatusCompleted,
			Artifacts: map[string]interface{}{"intake": map[string]interface{}{"q": "x"}},
		}))
		require.NoError(t, store.AppendPhaseResult(ctx, run.ID, models.PhaseResult{
			PhaseIndex: 1, PhaseName: "grounding", Status: models.PhaseStatusFailed,
			Errors: []string{"retry me"},
		}))
		require.NoError(t, store.AppendPhaseResult(ctx, run.ID, models.PhaseResult{
			PhaseIndex: 1, PhaseName: "grounding", Status: models.PhaseStatusCompleted,
			SourceIDs: []string{"c1"},
		}))

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got.Results, 3)
		assert.Equal(t, models.PhaseStatusFailed, got.Results[1].Status)
		latest := got.LatestResult(1)
		require.NotNil(t, latest)
		assert.Equal(t, models.PhaseStatusCompleted, latest.Status)
	})

	t.Run("StateMachineAndTerminal", func(t *testing.T) {
		run, err := store.CreateRun(ctx, "matter-sm", testDef(), validIntake())
		require.NoError(t, err)

		err = store.SetStatus(ctx, run.ID, models.RunStatusNeedsInput, "", nil)
		var terr *InvalidTransitionError
		require.True(t, errors.As(err, &terr))

		require.NoError(t, store.SetStatus(ctx, run.ID, models.RunStatusRunning, "", nil))
		plan := &models.CorrectionPlan{
			Failed:  []models.VerificationTestResult{{TestID: "citation_integrity", Name: "Citation Integrity"}},
			Summary: "fix citations",
		}
		require.NoError(t, store.SetStatus(ctx, run.ID, models.RunStatusFailed, "verification failed", plan))

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "verification failed", got.Error)
		require.NotNil(t, got.CorrectionPlan)
		assert.Equal(t, "fix citations", got.CorrectionPlan.Summary)
		require.NotNil(t, got.FinishedAt)

		assert.ErrorIs(t, store.AppendPhaseResult(ctx, run.ID, models.PhaseResult{}), ErrRunTerminal)
		assert.ErrorIs(t, store.AdvancePhase(ctx, run.ID, 1), ErrRunTerminal)
	})

	t.Run("AdvancePhaseMonotonic", func(t *testing.T) {
		run, err := store.CreateRun(ctx, "matter-adv", testDef(), validIntake())
		require.NoError(t, err)

		require.NoError(t, store.AdvancePhase(ctx, run.ID, 3))
		assert.ErrorIs(t, store.AdvancePhase(ctx, run.ID, 2), ErrPhaseRegression)

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.CurrentPhase)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		_, err := store.GetRun(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrRunNotFound)
	})
}
