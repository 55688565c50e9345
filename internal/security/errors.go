package security

import "fmt"

// ValidationError reports an origin pattern that failed construction-time
// validation. Patterns are rejected early so a malformed allow-list can never
// silently widen at match time.
type ValidationError struct {
	Pattern string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid origin pattern %q: %s", e.Pattern, e.Reason)
}

// ViolationError reports an attempted operation outside the configured
// security boundary: an action targeting a non-allowed origin, or a secret
// binding whose scope is not covered by the allow-list.
type ViolationError struct {
	Op       string
	Subject  string
	Location string
}

func (e *ViolationError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("security violation in %s: %q is not permitted at %q", e.Op, e.Subject, e.Location)
	}
	return fmt.Sprintf("security violation in %s: %q is not covered by the origin allow-list", e.Op, e.Subject)
}

// SubstitutionWarning records a placeholder token that referenced a secret
// with no binding (or an empty value) at the current location. The token is
// left in place and the run continues.
type SubstitutionWarning struct {
	Placeholder string
	Location    string
}

func (w SubstitutionWarning) String() string {
	return fmt.Sprintf("no secret bound for placeholder %q at %s", w.Placeholder, w.Location)
}
