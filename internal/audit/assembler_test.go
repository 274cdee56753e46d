package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmemo/backend/pkg/models"
)

func sampleInput() Input {
	created := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	finished := created.Add(90 * time.Second)
	return Input{
		Run: &models.WorkflowRun{
			ID:                "run-1",
			MatterID:          "matter-1",
			DefinitionID:      "litigation_research_memo",
			DefinitionVersion: 1,
			Status:            models.RunStatusCompleted,
			CreatedAt:         created,
			FinishedAt:        &finished,
			Results: []models.PhaseResult{
				{PhaseIndex: 0, PhaseName: "intake", Status: models.PhaseStatusCompleted, StartedAt: created, FinishedAt: created.Add(time.Second)},
			},
		},
		Intake: map[string]interface{}{"research_question": "Is the claim time-barred?"},
		Memo: models.MemoDraft{
			Text:   "If accrual is disputed, the claim may survive [2]. The period is three years [1].",
			Format: "IRAC",
			Citations: []models.Citation{
				{Token: 2, ChunkID: "chunk-b"},
				{Token: 1, ChunkID: "chunk-a"},
			},
		},
		Authorities: []models.Authority{{ID: "auth-1", Name: "Limitations Act", Jurisdiction: "State X", Status: models.StatusGoodLaw}},
		IssueTree:   []models.Issue{{ID: "issue-1", Element: "Accrual", AuthorityIDs: []string{"auth-1"}}},
		Rules:       []models.Rule{{ID: "rule-1", IssueID: "issue-1", Quote: "three years", ChunkID: "chunk-a", AuthorityName: "Limitations Act"}},
		Sources: []models.SourceChunk{
			{ChunkID: "chunk-b", Text: "b"},
			{ChunkID: "chunk-a", Text: "a"},
		},
		Checks: []models.VerificationTestResult{
			{TestID: "citation_integrity", Name: "Citation Integrity", Passed: true},
			{TestID: "hedging_structure", Name: "Hedging Structure", Passed: true},
		},
	}
}

func TestAssemble_SortsCitationsAndSources(t *testing.T) {
	bundle, err := Assemble(sampleInput())
	require.NoError(t, err)

	require.Len(t, bundle.Citations, 2)
	assert.Equal(t, 1, bundle.Citations[0].Token)
	assert.Equal(t, 2, bundle.Citations[1].Token)
	assert.Equal(t, "chunk-a", bundle.Sources[0].ChunkID)
}

func TestAssemble_RefusesWithoutPassedGate(t *testing.T) {
	in := sampleInput()
	in.Checks[1].Passed = false
	_, err := Assemble(in)
	assert.ErrorIs(t, err, ErrGateNotPassed)

	in.Checks = nil
	_, err = Assemble(in)
	assert.ErrorIs(t, err, ErrGateNotPassed)
}

// Re-assembling and re-rendering the same run must be byte-identical.
func TestRender_Idempotent(t *testing.T) {
	first, err := Assemble(sampleInput())
	require.NoError(t, err)
	second, err := Assemble(sampleInput())
	require.NoError(t, err)

	j1, err := RenderJSON(first)
	require.NoError(t, err)
	j2, err := RenderJSON(second)
	require.NoError(t, err)
	assert.Equal(t, j1, j2)

	assert.Equal(t, RenderMarkdown(first), RenderMarkdown(second))
}

func TestRenderMarkdown_ContainsSections(t *testing.T) {
	bundle, err := Assemble(sampleInput())
	require.NoError(t, err)

	md := RenderMarkdown(bundle)
	assert.Contains(t, md, "## Authority Table")
	assert.Contains(t, md, "## Citation Map")
	assert.Contains(t, md, "## Verification Record")
	assert.Contains(t, md, "Limitations Act")
	assert.Contains(t, md, "[1] -> chunk `chunk-a`")
}

func TestFromRun_DecodesArtifacts(t *testing.T) {
	in := sampleInput()
	run := in.Run
	run.Intake = in.Intake
	run.Results = append(run.Results, models.PhaseResult{
		PhaseIndex: 8,
		PhaseName:  "verification",
		Status:     models.PhaseStatusCompleted,
		Artifacts: map[string]interface{}{
			"memo": map[string]interface{}{
				"text":      in.Memo.Text,
				"format":    "IRAC",
				"citations": []interface{}{map[string]interface{}{"token": 1, "chunk_id": "chunk-a"}},
			},
			"verification": []interface{}{
				map[string]interface{}{"test_id": "citation_integrity", "name": "Citation Integrity", "passed": true},
			},
		},
	})

	names := ArtifactNames{
		Intake: "intake", Memo: "memo", Authorities: "validated_authorities",
		IssueTree: "issue_tree", Rules: "rules", Checks: "verification",
	}
	bundle, err := FromRun(run, names)
	require.NoError(t, err)
	assert.Equal(t, "run-1", bundle.RunID)
	assert.Equal(t, "IRAC", bundle.Memo.Format)
	require.Len(t, bundle.Citations, 1)
	assert.Equal(t, 1, bundle.Citations[0].Token)
	assert.Equal(t, in.Intake, bundle.Intake)
}
