package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lexmemo/backend/pkg/models"
)

// MemoryRunStore is an in-memory RunStore used by tests and local smoke runs.
// It applies the same state machine and append-only discipline as the
// Postgres store; a store-wide mutex serializes writes, which subsumes the
// single-writer-per-run guarantee.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*models.WorkflowRun
}

// NewMemoryRunStore creates an empty MemoryRunStore.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*models.WorkflowRun)}
}

// CreateRun validates intake and records a new PENDING run.
func (s *MemoryRunStore) CreateRun(ctx context.Context, matterID string, def *models.WorkflowDefinition, intake map[string]interface{}) (*models.WorkflowRun, error) {
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

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
	return cloneRun(run), nil
}

// GetRun returns a deep copy of the run.
func (s *MemoryRunStore) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns runs for a matter, newest first.
func (s *MemoryRunStore) ListRuns(ctx context.Context, matterID string) ([]*models.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*models.WorkflowRun
	for _, run := range s.runs {
		if matterID == "" || run.MatterID == matterID {
			runs = append(runs, cloneRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// AppendPhaseResult appends one phase attempt to the run's result log.
func (s *MemoryRunStore) AppendPhaseResult(ctx context.Context, runID string, result models.PhaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status.Terminal() {
		return ErrRunTerminal
	}
	run.Results = append(run.Results, result)
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus transitions the run status, enforcing the state machine.
func (s *MemoryRunStore) SetStatus(ctx context.Context, runID string, status models.RunStatus, terminalErr string, plan *models.CorrectionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if !models.CanTransition(run.Status, status) {
		if run.Status.Terminal() {
			return ErrRunTerminal
		}
		return &InvalidTransitionError{From: run.Status, To: status}
	}

	run.Status = status
	run.Error = terminalErr
	run.CorrectionPlan = plan
	run.UpdatedAt = time.Now().UTC()
	if status.Terminal() {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	return nil
}

// AdvancePhase moves the current phase index forward.
func (s *MemoryRunStore) AdvancePhase(ctx context.Context, runID string, phaseIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status.Terminal() {
		return ErrRunTerminal
	}
	if phaseIndex < run.CurrentPhase {
		return ErrPhaseRegression
	}
	run.CurrentPhase = phaseIndex
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryRunStore) Ping(ctx context.Context) error {
	return nil
}

// cloneRun deep-copies via JSON so callers can never mutate stored state.
func cloneRun(run *models.WorkflowRun) *models.WorkflowRun {
	raw, err := json.Marshal(run)
	if err != nil {
		return run
	}
	var out models.WorkflowRun
	if err := json.Unmarshal(raw, &out); err != nil {
		return run
	}
	return &out
}
