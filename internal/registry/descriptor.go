package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/pagewarden/pagewarden/api/schemas"
	"github.com/pagewarden/pagewarden/internal/security"
)

// ParamType enumerates the value types a descriptor parameter may declare.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// Parameter is one named, typed field in an action's argument schema.
type Parameter struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Description string
}

// Capability names for framework-injected arguments. A descriptor declares
// up front which of these its handler needs; the dispatcher resolves them by
// name at call time. Descriptor parameters must not reuse these names.
const (
	InjectSession            = "session"
	InjectLocation           = "location"
	InjectContext            = "context"
	InjectExtractionModel    = "extraction_model"
	InjectAvailableResources = "available_resources"
	InjectHasSecrets         = "has_secrets"
)

// reservedNames is the full set of injected argument names.
var reservedNames = map[string]struct{}{
	InjectSession:            {},
	InjectLocation:           {},
	InjectContext:            {},
	InjectExtractionModel:    {},
	InjectAvailableResources: {},
	InjectHasSecrets:         {},
}

// Invocation carries a handler's validated arguments plus the injected
// capabilities its descriptor declared. Fields outside the declared set stay
// zero-valued.
type Invocation struct {
	Args               map[string]any
	Session            schemas.Session
	Location           string
	Context            any
	ExtractionModel    schemas.Model
	AvailableResources []string
	HasSecrets         bool
}

// String returns the named argument as a string, or the empty string.
func (inv Invocation) String(name string) string {
	s, _ := inv.Args[name].(string)
	return s
}

// Int returns the named argument as an int, or zero.
func (inv Invocation) Int(name string) int {
	switch v := inv.Args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Bool returns the named argument as a bool, or false.
func (inv Invocation) Bool(name string) bool {
	b, _ := inv.Args[name].(bool)
	return b
}

// Handler executes one action. Errors and panics are captured at the
// dispatch boundary; a handler never takes the run down.
type Handler func(ctx context.Context, inv Invocation) (schemas.ActionResult, error)

// Descriptor is the registered schema and metadata for one callable
// capability exposed to the model. Descriptors are immutable after
// registration and shared read-only across steps and orchestrators.
type Descriptor struct {
	// Name uniquely identifies the action.
	Name string
	// Description is shown to the model when the action is permitted.
	Description string
	// Params is the typed argument schema checked before invocation.
	Params []Parameter
	// Injects lists the framework-provided capabilities the handler needs.
	Injects []string
	// Scope restricts the action to locations matching the pattern. Nil
	// means unrestricted.
	Scope *security.OriginPattern
	// VisibleWhen, if set, further filters the action by the current
	// location (e.g. only on pages with a search box).
	VisibleWhen func(location string) bool
	// Handler is the typed implementation.
	Handler Handler
}

// AvailableAt reports whether the descriptor may be offered to the model at
// the given location.
func (d *Descriptor) AvailableAt(location string) bool {
	if d.Scope != nil && !d.Scope.Matches(location) {
		return false
	}
	if d.VisibleWhen != nil && !d.VisibleWhen(location) {
		return false
	}
	return true
}

// PromptLine renders the descriptor as a single schema line for the model
// prompt, e.g. `click_element(index: integer) - Click an element by index`.
func (d *Descriptor) PromptLine() string {
	parts := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		field := fmt.Sprintf("%s: %s", p.Name, p.Type)
		if !p.Required {
			field += "?"
		}
		parts = append(parts, field)
	}
	return fmt.Sprintf("%s(%s) - %s", d.Name, strings.Join(parts, ", "), d.Description)
}
