package core

import "fmt"

// FailureClass buckets every pipeline failure. Each call site classifies its
// own failure before it crosses back into the orchestrator; the orchestrator
// only ever branches on these classes.
type FailureClass string

const (
	// FailureFatal aborts the run. Retry is manual, from scratch.
	FailureFatal FailureClass = "fatal"
	// FailureDegradeDefault substitutes a deterministic fallback and continues.
	FailureDegradeDefault FailureClass = "degrade-default"
	// FailureDegradeEphemeral substitutes a temporary identity and continues.
	FailureDegradeEphemeral FailureClass = "degrade-ephemeral"
)

// StepError carries the failing state, its class and a human-readable reason.
type StepError struct {
	State  PipelineState
	Class  FailureClass
	Reason string
	Err    error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.State, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Reason)
}

func (e *StepError) Unwrap() error { return e.Err }

// NewFatal wraps err as a run-aborting failure at the given state.
func NewFatal(state PipelineState, reason string, err error) *StepError {
	return &StepError{State: state, Class: FailureFatal, Reason: reason, Err: err}
}
