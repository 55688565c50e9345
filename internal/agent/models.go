package agent

import "time"

// State is the lifecycle state of one orchestrator run.
//
//	INIT -> RUNNING <-> PAUSED -> {DONE | FAILED | ABORTED}
type State string

const (
	// StateInit is the pre-run state; no environment interaction happens.
	StateInit State = "INIT"
	// StateRunning is the only state in which steps execute.
	StateRunning State = "RUNNING"
	// StatePaused suspends the loop at a step boundary; history is retained.
	StatePaused State = "PAUSED"
	// StateDone is the non-error terminal: a terminal action result, or the
	// step limit was reached.
	StateDone State = "DONE"
	// StateFailed is the fatal terminal entered when consecutive failures
	// reach the configured threshold.
	StateFailed State = "FAILED"
	// StateAborted is entered on cancellation or an unrecoverable external
	// error such as the environment becoming unreachable.
	StateAborted State = "ABORTED"
)

// Terminal reports whether no further steps can run from this state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateAborted
}

// Settings bounds one run. Zero values are replaced by defaults in New.
type Settings struct {
	// MaxSteps caps the run; reaching it is a non-error terminal.
	MaxSteps int
	// MaxFailures is the consecutive-failure threshold for FAILED.
	MaxFailures int
	// RetryDelay is the pause applied after a rate-limit-classified model
	// failure before the next step.
	RetryDelay time.Duration
	// MaxActionsPerStep truncates the model's proposed calls.
	MaxActionsPerStep int
	// PlannerInterval invokes the planner at step indices 0, N, 2N, ...
	PlannerInterval int
	// MemoryInterval compacts history every N steps; 0 disables compaction.
	MemoryInterval int
	// WaitBetweenActions inserts a settle delay between calls in one step.
	WaitBetweenActions time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.MaxSteps <= 0 {
		s.MaxSteps = 100
	}
	if s.MaxFailures <= 0 {
		s.MaxFailures = 3
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = 10 * time.Second
	}
	if s.MaxActionsPerStep <= 0 {
		s.MaxActionsPerStep = 10
	}
	if s.PlannerInterval <= 0 {
		s.PlannerInterval = 1
	}
	return s
}

// Hook is a caller-supplied callback invoked around each step. Hooks receive
// the agent as a read/command handle; anything they raise is caught and
// logged, never propagated.
type Hook func(*Agent)
