package schemas

import (
	"context"
	"fmt"
)

// Session is the browser handle the core drives. Implementations own one
// focused page at a time and must serialize concurrent access internally if
// they are ever shared; the core adds no locking on top.
type Session interface {
	// Snapshot observes the current page without mutating it.
	Snapshot(ctx context.Context) (Snapshot, error)
	// CurrentURL returns the location of the focused page.
	CurrentURL(ctx context.Context) (string, error)

	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Click(ctx context.Context, selector string) error
	TypeText(ctx context.Context, selector, text string) error
	Scroll(ctx context.Context, direction string) error
	// ExtractHTML returns the serialized document for content extraction.
	ExtractHTML(ctx context.Context) (string, error)

	Close(ctx context.Context) error
}

// DecideRequest carries everything the model needs to choose the next calls.
type DecideRequest struct {
	Task     string
	Plan     string
	Snapshot Snapshot
	// Actions is the JSON schema description of the permitted actions at the
	// current location.
	Actions string
	// History is a compact rendering of prior steps.
	History string
	// MaxCalls bounds how many calls the model may issue for this step.
	MaxCalls int
}

// GenerateRequest is a free-form text generation request, used by the
// planner, the memory compactor and the extract_content action.
type GenerateRequest struct {
	System string
	Prompt string
}

// Model is the language model the orchestrator consults each step.
type Model interface {
	// Decide submits a snapshot plus the permitted-action schemas and returns
	// the model's next calls. Transient failures should be reported as
	// *RateLimitError so the orchestrator can apply its retry delay.
	Decide(ctx context.Context, req DecideRequest) (Decision, error)
	// Generate produces free-form text for auxiliary prompts.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Planner periodically produces or refreshes a high-level plan from the run
// history. Planner failures are never fatal to the run.
type Planner interface {
	Plan(ctx context.Context, task string, records []StepRecord) (string, error)
}

// Compactor folds a window of history into a replacement summary record.
type Compactor interface {
	Compact(ctx context.Context, records []StepRecord) (string, error)
}

// RateLimitError classifies a transient, retryable model failure. The
// orchestrator responds with a bounded delay instead of repeating the call
// immediately.
type RateLimitError struct {
	Provider string
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }
