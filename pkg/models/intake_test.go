package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() InputSchema {
	return InputSchema{
		Order: []string{"question", "jurisdictions", "court_level", "urgent", "format"},
		Fields: map[string]InputField{
			"question":      {Type: FieldTypeTextarea, Required: true},
			"jurisdictions": {Type: FieldTypeMultiSelect, Required: true},
			"court_level":   {Type: FieldTypeSelect, Required: true, Options: []string{"trial", "appellate", "supreme"}},
			"urgent":        {Type: FieldTypeBoolean},
			"format":        {Type: FieldTypeSelect, Options: []string{"IRAC", "CREAC"}, Default: "IRAC"},
		},
	}
}

func TestValidateIntake_Valid(t *testing.T) {
	out, err := testSchema().ValidateIntake(map[string]interface{}{
		"question":      "Is the claim time-barred?",
		"jurisdictions": []interface{}{"State X"},
		"court_level":   "trial",
	})
	require.NoError(t, err)
	assert.Equal(t, "IRAC", out["format"], "default should be applied")
	assert.Equal(t, "Is the claim time-barred?", out["question"])
}

func TestValidateIntake_MissingRequired(t *testing.T) {
	_, err := testSchema().ValidateIntake(map[string]interface{}{
		"question":    "   ",
		"court_level": "trial",
	})
	require.Error(t, err)

	var verr *InvalidIntakeError
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []string{"question", "jurisdictions"}, verr.Missing)
	assert.Empty(t, verr.Invalid)
}

func TestValidateIntake_InvalidOption(t *testing.T) {
	_, err := testSchema().ValidateIntake(map[string]interface{}{
		"question":      "q",
		"jurisdictions": []interface{}{"State X"},
		"court_level":   "municipal",
		"urgent":        "yes",
	})
	var verr *InvalidIntakeError
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []string{"court_level", "urgent"}, verr.Invalid)
}

func TestValidateIntake_DoesNotMutateInput(t *testing.T) {
	in := map[string]interface{}{
		"question":      "q",
		"jurisdictions": []interface{}{"State X"},
		"court_level":   "trial",
	}
	out, err := testSchema().ValidateIntake(in)
	require.NoError(t, err)
	assert.Contains(t, out, "format")
	assert.NotContains(t, in, "format")
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to RunStatus
		ok       bool
	}{
		{RunStatusPending, RunStatusRunning, true},
		{RunStatusPending, RunStatusCompleted, false},
		{RunStatusRunning, RunStatusNeedsInput, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusRunning, RunStatusCompleted, true},
		{RunStatusNeedsInput, RunStatusRunning, true},
		{RunStatusNeedsInput, RunStatusFailed, false},
		{RunStatusCompleted, RunStatusRunning, false},
		{RunStatusFailed, RunStatusRunning, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
