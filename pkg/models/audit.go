package models

import "time"

// AuditBundle is the exportable record of a completed run: full phase history,
// the final memo, the provenance map, and run metadata. It is derived purely
// from persisted run state, so re-assembly is idempotent.
type AuditBundle struct {
	RunID             string                 `json:"run_id"`
	MatterID          string                 `json:"matter_id"`
	DefinitionID      string                 `json:"definition_id"`
	DefinitionVersion int                    `json:"definition_version"`
	Intake            map[string]interface{} `json:"intake"`

	Memo        MemoDraft                `json:"memo"`
	Authorities []Authority              `json:"authorities"`
	IssueTree   []Issue                  `json:"issue_tree"`
	Rules       []Rule                   `json:"rules"`
	Sources     []SourceChunk            `json:"sources"`
	Citations   []Citation               `json:"citations"`
	Checks      []VerificationTestResult `json:"checks"`

	PhaseHistory []PhaseResult `json:"phase_history"`
	CreatedAt    time.Time     `json:"created_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}
