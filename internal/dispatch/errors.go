package dispatch

import (
	"fmt"
	"strings"
)

// FieldError describes one offending argument in a call.
type FieldError struct {
	Field  string
	Reason string
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Reason)
}

// ValidationError reports arguments that failed schema validation. Every
// offending field is collected, not just the first, so the model gets one
// complete correction hint.
type ValidationError struct {
	Action string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("invalid arguments for %q: %s", e.Action, strings.Join(parts, "; "))
}

// ExecutionError wraps a failure raised inside an action handler. The
// original message is preserved; the failure never escapes the dispatch
// boundary as an uncaught error.
type ExecutionError struct {
	Action string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %q failed: %v", e.Action, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
