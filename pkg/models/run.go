package models

import (
	"time"
)

// RunStatus is the overall status of a workflow run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusRunning    RunStatus = "running"
	RunStatusNeedsInput RunStatus = "needs_input"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether no further transition may leave this status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// PhaseStatus is the status of a single phase execution attempt.
type PhaseStatus string

const (
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusFailed    PhaseStatus = "failed"
	PhaseStatusSkipped   PhaseStatus = "skipped"
	PhaseStatusWaiting   PhaseStatus = "waiting"
)

// SourceChunk is one retrieved unit of source material. ChunkID is the stable
// identifier the provenance map resolves citations against.
type SourceChunk struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Offset     int    `json:"offset"`
}

// Citation maps one in-text bracket token to the source chunk it quotes.
// Per memo the token->chunk mapping is total and injective: every token used
// resolves to exactly one chunk retrieved earlier in the same run.
type Citation struct {
	Token   int    `json:"token"`
	ChunkID string `json:"chunk_id"`
	Quote   string `json:"quote,omitempty"`
}

// PhaseResult records one phase execution attempt. Results are append-only:
// a retried phase produces a new PhaseResult, never an edit of the old one.
type PhaseResult struct {
	PhaseIndex int                    `json:"phase_index"`
	PhaseName  string                 `json:"phase_name"`
	Status     PhaseStatus            `json:"status"`
	Artifacts  map[string]interface{} `json:"artifacts,omitempty"`
	Logs       []string               `json:"logs,omitempty"`
	Errors     []string               `json:"errors,omitempty"`
	SourceIDs  []string               `json:"source_ids,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// VerificationTestResult is the outcome of one gate check.
type VerificationTestResult struct {
	TestID      string `json:"test_id"`
	Name        string `json:"name"`
	Passed      bool   `json:"passed"`
	Details     string `json:"details"`
	Remediation string `json:"remediation,omitempty"`
}

// CorrectionPlan is built from the failed subset of gate checks, never from
// passing ones. It exists only when the verification phase fails.
type CorrectionPlan struct {
	Failed  []VerificationTestResult `json:"failed"`
	Summary string                   `json:"summary"`
}

// WorkflowRun is one execution instance of a workflow definition against one
// matter's intake. Runs are owned by the run store and mutated only through
// its append and transition operations.
type WorkflowRun struct {
	ID                string                 `json:"id"`
	MatterID          string                 `json:"matter_id"`
	DefinitionID      string                 `json:"definition_id"`
	DefinitionVersion int                    `json:"definition_version"`
	Status            RunStatus              `json:"status"`
	CurrentPhase      int                    `json:"current_phase"`
	Intake            map[string]interface{} `json:"intake"`
	Results           []PhaseResult          `json:"results"`
	Error             string                 `json:"error,omitempty"`
	CorrectionPlan    *CorrectionPlan        `json:"correction_plan,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	FinishedAt        *time.Time             `json:"finished_at,omitempty"`
}

// LatestResult returns the most recent attempt for the given phase index, or
// nil when the phase has not been attempted. Retries append, so the last
// matching entry wins.
func (r *WorkflowRun) LatestResult(phaseIndex int) *PhaseResult {
	for i := len(r.Results) - 1; i >= 0; i-- {
		if r.Results[i].PhaseIndex == phaseIndex {
			return &r.Results[i]
		}
	}
	return nil
}

// SourceIDSet collects every chunk identifier consulted by phases before the
// given index. The verification gate resolves citation tokens against it.
func (r *WorkflowRun) SourceIDSet(beforePhase int) map[string]bool {
	ids := make(map[string]bool)
	for _, res := range r.Results {
		if res.PhaseIndex >= beforePhase {
			continue
		}
		for _, id := range res.SourceIDs {
			ids[id] = true
		}
	}
	return ids
}
