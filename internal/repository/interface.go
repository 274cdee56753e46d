package repository

import (
	"context"
	"errors"
	"fmt"

	"lexmemo/backend/pkg/models"
)

var (
	// ErrRunNotFound is returned when no run exists for the given id.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunTerminal is returned when a write targets a FAILED or COMPLETED run.
	ErrRunTerminal = errors.New("run is terminal")
	// ErrPhaseRegression is returned when an advance would move the phase
	// index backwards.
	ErrPhaseRegression = errors.New("phase index may only advance")
)

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	From models.RunStatus
	To   models.RunStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid run transition %s -> %s", e.From, e.To)
}

// RunStore is the durable store of workflow runs. Implementations must
// serialize concurrent writes to the same run while letting unrelated runs
// progress in parallel, and must never lose an already-appended phase result.
type RunStore interface {
	// CreateRun validates intake against the definition's input schema and
	// persists a new PENDING run. Returns *models.InvalidIntakeError on
	// schema mismatch; nothing is persisted in that case.
	CreateRun(ctx context.Context, matterID string, def *models.WorkflowDefinition, intake map[string]interface{}) (*models.WorkflowRun, error)

	// GetRun returns the run with all of its phase results, ordered by append.
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)

	// ListRuns returns runs for a matter, newest first. Empty matterID lists
	// all runs.
	ListRuns(ctx context.Context, matterID string) ([]*models.WorkflowRun, error)

	// AppendPhaseResult appends one phase attempt to the run's result log.
	// Fails with ErrRunNotFound or ErrRunTerminal.
	AppendPhaseResult(ctx context.Context, runID string, result models.PhaseResult) error

	// SetStatus transitions the run's status, enforcing the state machine.
	// terminalErr and plan are recorded only on FAILED.
	SetStatus(ctx context.Context, runID string, status models.RunStatus, terminalErr string, plan *models.CorrectionPlan) error

	// AdvancePhase moves the run's current phase index forward. The index is
	// monotonic; regressions fail with ErrPhaseRegression.
	AdvancePhase(ctx context.Context, runID string, phaseIndex int) error

	// Ping reports store health.
	Ping(ctx context.Context) error
}
