package agent

import "fmt"

// PlannerError wraps a planner failure. It is always non-fatal: the prior
// plan (or none) is retained and the step proceeds.
type PlannerError struct {
	Err error
}

func (e *PlannerError) Error() string {
	return fmt.Sprintf("planner failed: %v", e.Err)
}

func (e *PlannerError) Unwrap() error { return e.Err }

// MaxFailuresError terminates the run in FAILED once the consecutive-failure
// threshold is reached.
type MaxFailuresError struct {
	Threshold int
}

func (e *MaxFailuresError) Error() string {
	return fmt.Sprintf("stopped after %d consecutive step failures", e.Threshold)
}
