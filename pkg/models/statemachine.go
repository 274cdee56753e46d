package models

// runTransitions is the full transition table of the run state machine.
// FAILED and COMPLETED have no outgoing edges.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:    {RunStatusRunning},
	RunStatusRunning:    {RunStatusRunning, RunStatusNeedsInput, RunStatusFailed, RunStatusCompleted},
	RunStatusNeedsInput: {RunStatusRunning},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
