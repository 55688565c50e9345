// Package schemas holds the value types and collaborator contracts shared
// between the agent core and its external components (browser session, model
// client, planner, memory compactor).
package schemas

import (
	"time"
)

// Task is the natural language goal the agent is driving towards. The goal is
// immutable after construction; AppendGoal is the only sanctioned extension
// point and never resets accumulated history.
type Task struct {
	// Goal is the natural-language objective.
	Goal string `json:"goal"`
	// Context is an optional caller-supplied object made available to action
	// handlers that declare the "context" capability.
	Context any `json:"context,omitempty"`
	// InitialCalls are executed through the normal dispatch path before the
	// first model-driven step.
	InitialCalls []ActionCall `json:"initial_calls,omitempty"`
}

// AppendGoal extends the task objective mid-run. The previous goal text is
// preserved so the model sees the full lineage of instructions.
func (t *Task) AppendGoal(goal string) {
	t.Goal = t.Goal + "\n\nNew task: " + goal
}

// ActionCall is one action invocation proposed by the model: the registered
// action name plus its raw argument values. Transient, consumed by dispatch.
type ActionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Decision is the model's output for one step: its reasoning text and the
// ordered list of calls it wants executed.
type Decision struct {
	Thought string       `json:"thought,omitempty"`
	Calls   []ActionCall `json:"calls"`
}

// ActionResult is the normalized outcome of one executed action.
type ActionResult struct {
	// Content is a short text summary of what happened, already passed
	// through secret redaction before it reaches history or the model.
	Content string `json:"content,omitempty"`
	// LongTermMemory marks the content for persistence into long-term
	// context across compaction windows.
	LongTermMemory bool `json:"long_term_memory,omitempty"`
	// Done signals task completion; the orchestrator transitions to DONE.
	Done bool `json:"done,omitempty"`
	// Success qualifies a Done result. Ignored when Done is false.
	Success bool `json:"success,omitempty"`
	// Error carries the failure payload when the action did not succeed.
	Error string `json:"error,omitempty"`
}

// IsError reports whether the result carries a failure payload.
func (r ActionResult) IsError() bool { return r.Error != "" }

// Element is one interactive element surfaced in a snapshot, addressed by a
// stable index the model can reference in its calls.
type Element struct {
	Index    int    `json:"index"`
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	Selector string `json:"selector"`
}

// Snapshot is a point-in-time observation of the environment. Producing one
// must be side-effect free.
type Snapshot struct {
	URL      string    `json:"url"`
	Title    string    `json:"title,omitempty"`
	Content  string    `json:"content,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// StepRecord is one immutable entry in the run history: the model's
// reasoning, the calls it issued, their results, and the location before and
// after the step. Records are appended in step order and never mutated.
type StepRecord struct {
	ID        string         `json:"id"`
	Step      int            `json:"step"`
	Thought   string         `json:"thought,omitempty"`
	Plan      string         `json:"plan,omitempty"`
	Calls     []ActionCall   `json:"calls,omitempty"`
	Results   []ActionResult `json:"results,omitempty"`
	URLBefore string         `json:"url_before,omitempty"`
	URLAfter  string         `json:"url_after,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// IsDone reports whether any result in the record marked the task complete.
func (r StepRecord) IsDone() bool {
	for _, res := range r.Results {
		if res.Done {
			return true
		}
	}
	return false
}

// Succeeded reports whether at least one action in the record completed
// without an error payload.
func (r StepRecord) Succeeded() bool {
	for _, res := range r.Results {
		if !res.IsError() {
			return true
		}
	}
	return false
}
