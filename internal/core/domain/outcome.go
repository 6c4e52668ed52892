package domain

import "time"

type OutcomeState int

const (
	OutcomeOK OutcomeState = iota
	OutcomeSkipped
	OutcomeRetryable
	OutcomeFatal
)

// Outcome is the explicit result of one stage execution. The orchestrator
// decides retry vs. abandon from the state, never from error inspection
// inside the stage.
type Outcome struct {
	State      OutcomeState
	Err        error
	RetryAfter time.Duration
}

func OK() Outcome                 { return Outcome{State: OutcomeOK} }
func Skip() Outcome               { return Outcome{State: OutcomeSkipped} }
func Retryable(err error) Outcome { return Outcome{State: OutcomeRetryable, Err: err} }
func Fatal(err error) Outcome     { return Outcome{State: OutcomeFatal, Err: err} }

func RetryableAfter(err error, wait time.Duration) Outcome {
	return Outcome{State: OutcomeRetryable, Err: err, RetryAfter: wait}
}
