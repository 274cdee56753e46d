package engine

import (
	"context"
	"errors"
	"fmt"
	"net"

	"lexmemo/backend/pkg/models"
)

var (
	// ErrRunNotRunnable is returned when the run cannot accept another phase
	// execution in its current status.
	ErrRunNotRunnable = errors.New("run is not in a runnable state")
	// ErrAwaitingInput is returned when the run is parked for reviewer input
	// and must be resumed before it can advance.
	ErrAwaitingInput = errors.New("run is awaiting input")
	// ErrNotAwaitingInput is returned when Resume targets a run that is not
	// parked.
	ErrNotAwaitingInput = errors.New("run is not awaiting input")
)

// PhaseError is a failure inside one phase attempt. Fatal errors terminate
// the run; non-fatal errors are recorded on the phase result and execution
// continues with the next phase.
type PhaseError struct {
	Phase string
	Fatal bool
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// VerificationFailure is returned by the verification phase when the gate
// rejects the memo. It carries the correction plan recorded on the run.
type VerificationFailure struct {
	Plan *models.CorrectionPlan
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verification gate failed %d checks", len(e.Plan.Failed))
}

// isTimeout reports whether the error chain is a collaborator timeout.
// Timeouts fail the phase but terminate the run only when the phase is
// marked fatal-on-timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
