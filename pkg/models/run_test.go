package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestResult_RetryWins(t *testing.T) {
	run := &WorkflowRun{
		Results: []PhaseResult{
			{PhaseIndex: 0, Status: PhaseStatusCompleted},
			{PhaseIndex: 1, Status: PhaseStatusFailed, Errors: []string{"first attempt"}},
			{PhaseIndex: 1, Status: PhaseStatusCompleted},
		},
	}

	latest := run.LatestResult(1)
	require.NotNil(t, latest)
	assert.Equal(t, PhaseStatusCompleted, latest.Status)

	assert.Nil(t, run.LatestResult(2))
}

func TestSourceIDSet_BoundedByPhase(t *testing.T) {
	run := &WorkflowRun{
		Results: []PhaseResult{
			{PhaseIndex: 1, SourceIDs: []string{"c1", "c2"}},
			{PhaseIndex: 2, SourceIDs: []string{"c2", "c3"}},
			{PhaseIndex: 8, SourceIDs: []string{"late"}},
		},
	}

	ids := run.SourceIDSet(8)
	assert.True(t, ids["c1"])
	assert.True(t, ids["c3"])
	assert.False(t, ids["late"], "chunks from the cutoff phase onward are excluded")
	assert.Len(t, ids, 3)
}
