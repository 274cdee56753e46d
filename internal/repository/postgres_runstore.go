package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lexmemo/backend/pkg/models"
)

// Logger is the logging interface the store depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// PostgresRunStore is a PostgreSQL implementation of the RunStore interface.
// Writes to a single run are serialized with a row lock inside a transaction;
// unrelated runs proceed in parallel.
type PostgresRunStore struct {
	db     *pgxpool.Pool
	logger Logger
}

// NewPostgresRunStore creates a new PostgresRunStore.
func NewPostgresRunStore(db *pgxpool.Pool, logger Logger) *PostgresRunStore {
	return &PostgresRunStore{db: db, logger: logger}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id UUID PRIMARY KEY,
	matter_id TEXT NOT NULL,
	definition_id TEXT NOT NULL,
	definition_version INT NOT NULL,
	status TEXT NOT NULL,
	current_phase INT NOT NULL DEFAULT 0,
	intake JSONB NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	correction_plan JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_matter ON workflow_runs (matter_id, created_at DESC);
CREATE TABLE IF NOT EXISTS phase_results (
	id BIGSERIAL PRIMARY KEY,
	run_id UUID NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
	phase_index INT NOT NULL,
	phase_name TEXT NOT NULL,
	status TEXT NOT NULL,
	artifacts JSONB,
	logs JSONB,
	errors JSONB,
	source_ids JSONB,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phase_results_run ON phase_results (run_id, id);
`

// Migrate creates the run tables if they do not exist.
func (s *PostgresRunStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to migrate run store schema: %w", err)
	}
	return nil
}

// CreateRun validates intake against the definition's schema and persists a
// new PENDING run. No row is written when validation fails.
func (s *PostgresRunStore) CreateRun(ctx context.Context, matterID string, def *models.WorkflowDefinition, intake map[string]interface{}) (*models.WorkflowRun, error) {
	normalized, err := def.InputSchema.ValidateIntake(intake)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &models.WorkflowRun{
		ID:                uuid.New().String(),
		MatterID:          matterID,
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Status:            models.RunStatusPending,
		Intake:            normalized,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	intakeJSON, err := json.Marshal(run.Intake)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intake: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_runs (id, matter_id, definition_id, definition_version, status, current_phase, intake, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.MatterID, run.DefinitionID, run.DefinitionVersion, run.Status, run.CurrentPhase, intakeJSON, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	s.logger.Info("run %s created for matter %s (%s v%d)", run.ID, matterID, def.ID, def.Version)
	return run, nil
}

// GetRun returns the run with its full phase result history.
func (s *PostgresRunStore) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := s.scanRun(ctx, s.db, runID, false)
	if err != nil {
		return nil, err
	}
	results, err := s.loadResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Results = results
	return run, nil
}

// ListRuns returns runs for a matter, newest first.
func (s *PostgresRunStore) ListRuns(ctx context.Context, matterID string) ([]*models.WorkflowRun, error) {
	query := `SELECT id, matter_id, definition_id, definition_version, status, current_phase, intake, error, correction_plan, created_at, updated_at, finished_at
		FROM workflow_runs WHERE ($1 = '' OR matter_id = $1) ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, query, matterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.WorkflowRun
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendPhaseResult appends one phase attempt inside a transaction holding the
// run row lock. The append is rejected when the run is terminal, leaving run
// state exactly as before.
func (s *PostgresRunStore) AppendPhaseResult(ctx context.Context, runID string, result models.PhaseResult) error {
	return s.withRunLock(ctx, runID, func(tx pgx.Tx, run *models.WorkflowRun) error {
		if run.Status.Terminal() {
			return ErrRunTerminal
		}

		artifacts, err := json.Marshal(result.Artifacts)
		if err != nil {
			return fmt.Errorf("failed to marshal artifacts: %w", err)
		}
		logs, _ := json.Marshal(result.Logs)
		errs, _ := json.Marshal(result.Errors)
		sourceIDs, _ := json.Marshal(result.SourceIDs)

		_, err = tx.Exec(ctx,
			`INSERT INTO phase_results (run_id, phase_index, phase_name, status, artifacts, logs, errors, source_ids, started_at, finished_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			runID, result.PhaseIndex, result.PhaseName, result.Status, artifacts, logs, errs, sourceIDs, result.StartedAt, result.FinishedAt)
		if err != nil {
			return fmt.Errorf("failed to append phase result: %w", err)
		}

		_, err = tx.Exec(ctx, `UPDATE workflow_runs SET updated_at = now() WHERE id = $1`, runID)
		return err
	})
}

// SetStatus transitions the run status under the run row lock, enforcing the
// state machine. FAILED records the terminal error and correction plan;
// terminal statuses stamp finished_at.
func (s *PostgresRunStore) SetStatus(ctx context.Context, runID string, status models.RunStatus, terminalErr string, plan *models.CorrectionPlan) error {
	return s.withRunLock(ctx, runID, func(tx pgx.Tx, run *models.WorkflowRun) error {
		if !models.CanTransition(run.Status, status) {
			if run.Status.Terminal() {
				return ErrRunTerminal
			}
			return &InvalidTransitionError{From: run.Status, To: status}
		}

		var planJSON []byte
		if plan != nil {
			var err error
			planJSON, err = json.Marshal(plan)
			if err != nil {
				return fmt.Errorf("failed to marshal correction plan: %w", err)
			}
		}

		var finishedAt *time.Time
		if status.Terminal() {
			now := time.Now().UTC()
			finishedAt = &now
		}

		_, err := tx.Exec(ctx,
			`UPDATE workflow_runs SET status = $2, error = $3, correction_plan = $4, finished_at = $5, updated_at = now() WHERE id = $1`,
			runID, status, terminalErr, planJSON, finishedAt)
		if err != nil {
			return fmt.Errorf("failed to set run status: %w", err)
		}
		return nil
	})
}

// AdvancePhase moves current_phase forward; the index is monotonic.
func (s *PostgresRunStore) AdvancePhase(ctx context.Context, runID string, phaseIndex int) error {
	return s.withRunLock(ctx, runID, func(tx pgx.Tx, run *models.WorkflowRun) error {
		if run.Status.Terminal() {
			return ErrRunTerminal
		}
		if phaseIndex < run.CurrentPhase {
			return ErrPhaseRegression
		}
		_, err := tx.Exec(ctx,
			`UPDATE workflow_runs SET current_phase = $2, updated_at = now() WHERE id = $1`,
			runID, phaseIndex)
		return err
	})
}

// Ping reports database health.
func (s *PostgresRunStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresRunStore) withRunLock(ctx context.Context, runID string, fn func(tx pgx.Tx, run *models.WorkflowRun) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	run, err := s.scanRun(ctx, tx, runID, true)
	if err != nil {
		return err
	}
	if err := fn(tx, run); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresRunStore) scanRun(ctx context.Context, q queryRower, runID string, forUpdate bool) (*models.WorkflowRun, error) {
	query := `SELECT id, matter_id, definition_id, definition_version, status, current_phase, intake, error, correction_plan, created_at, updated_at, finished_at
		FROM workflow_runs WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	run, err := scanRunRow(q.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

func scanRunRow(row rowScanner) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var intakeJSON, planJSON []byte
	err := row.Scan(&run.ID, &run.MatterID, &run.DefinitionID, &run.DefinitionVersion,
		&run.Status, &run.CurrentPhase, &intakeJSON, &run.Error, &planJSON,
		&run.CreatedAt, &run.UpdatedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(intakeJSON, &run.Intake); err != nil {
		return nil, fmt.Errorf("failed to decode intake: %w", err)
	}
	if len(planJSON) > 0 {
		run.CorrectionPlan = &models.CorrectionPlan{}
		if err := json.Unmarshal(planJSON, run.CorrectionPlan); err != nil {
			return nil, fmt.Errorf("failed to decode correction plan: %w", err)
		}
	}
	return &run, nil
}

func (s *PostgresRunStore) loadResults(ctx context.Context, runID string) ([]models.PhaseResult, error) {
	rows, err := s.db.Query(ctx,
		`SELECT phase_index, phase_name, status, artifacts, logs, errors, source_ids, started_at, finished_at
		 FROM phase_results WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load phase results: %w", err)
	}
	defer rows.Close()

	var results []models.PhaseResult
	for rows.Next() {
		var r models.PhaseResult
		var artifacts, logs, errs, sourceIDs []byte
		if err := rows.Scan(&r.PhaseIndex, &r.PhaseName, &r.Status, &artifacts, &logs, &errs, &sourceIDs, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		if len(artifacts) > 0 {
			if err := json.Unmarshal(artifacts, &r.Artifacts); err != nil {
				return nil, fmt.Errorf("failed to decode artifacts: %w", err)
			}
		}
		if len(logs) > 0 {
			_ = json.Unmarshal(logs, &r.Logs)
		}
		if len(errs) > 0 {
			_ = json.Unmarshal(errs, &r.Errors)
		}
		if len(sourceIDs) > 0 {
			_ = json.Unmarshal(sourceIDs, &r.SourceIDs)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
