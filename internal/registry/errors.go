package registry

import "fmt"

// DuplicateActionError reports a second registration under an existing name.
// Registration errors are configuration-time and fatal to setup.
type DuplicateActionError struct {
	Name string
}

func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("action %q is already registered", e.Name)
}

// UnknownActionError reports a lookup for a name that was never registered
// (or is hidden by the caller's exclusion set).
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Name)
}

// ParameterConflictError reports a descriptor parameter that collides with
// one of the reserved framework-injected argument names. Caught at
// registration so the mistake surfaces before any run starts.
type ParameterConflictError struct {
	Action    string
	Parameter string
}

func (e *ParameterConflictError) Error() string {
	return fmt.Sprintf("action %q declares parameter %q, which is a reserved injected argument name", e.Action, e.Parameter)
}
