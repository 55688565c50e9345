// Package registry catalogs the actions a model may invoke: their argument
// schemas, origin scopes and visibility rules. One registry can back several
// orchestrators, each seeing it through its own exclusion view.
package registry

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Registry holds action descriptors keyed by name. All registration must
// complete before any orchestrator starts using the registry; afterwards it
// is read-only and safe for concurrent use.
type Registry struct {
	logger   *zap.Logger
	actions  map[string]*Descriptor
	excluded map[string]struct{}
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("registry"),
		actions: make(map[string]*Descriptor),
	}
}

// Register validates and installs a descriptor. Duplicate names fail with
// *DuplicateActionError; a parameter named after a reserved injected argument
// fails with *ParameterConflictError. Both are configuration-time errors.
func (r *Registry) Register(d *Descriptor) error {
	if _, exists := r.actions[d.Name]; exists {
		return &DuplicateActionError{Name: d.Name}
	}
	for _, p := range d.Params {
		if _, reserved := reservedNames[p.Name]; reserved {
			return &ParameterConflictError{Action: d.Name, Parameter: p.Name}
		}
	}
	r.actions[d.Name] = d
	r.logger.Debug("Action registered", zap.String("action", d.Name))
	return nil
}

// MustRegister is Register for static built-in action tables, where a
// failure is a programming error.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Exclude returns a view of the registry that hides the named actions. The
// underlying descriptors are untouched, so several orchestrators can share
// one registry with different exclusion sets.
func (r *Registry) Exclude(names ...string) *Registry {
	excluded := make(map[string]struct{}, len(r.excluded)+len(names))
	for name := range r.excluded {
		excluded[name] = struct{}{}
	}
	for _, name := range names {
		excluded[name] = struct{}{}
	}
	return &Registry{logger: r.logger, actions: r.actions, excluded: excluded}
}

// Resolve returns the descriptor for a name, honoring the exclusion set.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	if _, hidden := r.excluded[name]; hidden {
		return nil, &UnknownActionError{Name: name}
	}
	d, ok := r.actions[name]
	if !ok {
		return nil, &UnknownActionError{Name: name}
	}
	return d, nil
}

// PermittedFor returns every visible descriptor whose origin scope and
// visibility predicate admit the location, sorted by name. Pure read.
func (r *Registry) PermittedFor(location string) []*Descriptor {
	out := make([]*Descriptor, 0, len(r.actions))
	for name, d := range r.actions {
		if _, hidden := r.excluded[name]; hidden {
			continue
		}
		if !d.AvailableAt(location) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PromptFor renders the permitted actions at a location as the schema block
// submitted to the model.
func (r *Registry) PromptFor(location string) string {
	descriptors := r.PermittedFor(location)
	lines := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		lines = append(lines, d.PromptLine())
	}
	return strings.Join(lines, "\n")
}
