// Package dispatch resolves one model-issued action call against the
// registry, enforces the security boundary around it, and invokes the typed
// handler. All handler failures are converted into structured results here;
// nothing raised inside a handler reaches the orchestrator as a raw error.
package dispatch

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/api/schemas"
	"github.com/pagewarden/pagewarden/internal/registry"
	"github.com/pagewarden/pagewarden/internal/security"
)

// Dispatcher executes action calls. It is stateless across calls and safe
// for reuse, but each call runs synchronously.
type Dispatcher struct {
	logger   *zap.Logger
	registry *registry.Registry
	policy   *security.Policy

	// Injected capabilities resolved by name at call time.
	userContext        any
	extractionModel    schemas.Model
	availableResources []string
}

// Option configures optional injected capabilities.
type Option func(*Dispatcher)

// WithUserContext supplies the caller context object handlers can declare.
func WithUserContext(ctx any) Option {
	return func(d *Dispatcher) { d.userContext = ctx }
}

// WithExtractionModel supplies the model handed to extraction handlers.
func WithExtractionModel(m schemas.Model) Option {
	return func(d *Dispatcher) { d.extractionModel = m }
}

// WithAvailableResources supplies the resource list (e.g. file paths)
// exposed to handlers that declare it.
func WithAvailableResources(resources []string) Option {
	return func(d *Dispatcher) { d.availableResources = resources }
}

// New builds a dispatcher over a registry view and a security policy.
func New(logger *zap.Logger, reg *registry.Registry, policy *security.Policy, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:   logger.Named("dispatcher"),
		registry: reg,
		policy:   policy,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs one call at the current location through the full pipeline:
// resolve, origin gate, argument validation, secret substitution, injected
// argument assembly, handler invocation, redaction. The returned error
// classifies the failure for the orchestrator's bookkeeping; the result
// always carries the model-facing summary.
func (d *Dispatcher) Execute(ctx context.Context, call schemas.ActionCall, location string, session schemas.Session) (schemas.ActionResult, error) {
	desc, err := d.registry.Resolve(call.Name)
	if err != nil {
		return failed(err), err
	}

	// The origin gate short-circuits before any argument touches the secret
	// vault: a blocked action must not observe substituted values.
	if desc.Scope != nil && !desc.Scope.Matches(location) {
		verr := &security.ViolationError{Op: "dispatch", Subject: call.Name, Location: location}
		d.logger.Warn("Action blocked by origin scope",
			zap.String("action", call.Name),
			zap.String("scope", desc.Scope.String()),
			zap.String("location", location))
		return failed(verr), verr
	}

	args, err := d.validateArgs(desc, call.Args)
	if err != nil {
		return failed(err), err
	}

	for name, value := range args {
		if s, ok := value.(string); ok {
			substituted, _ := d.policy.Substitute(s, location)
			args[name] = substituted
		}
	}

	inv := d.assemble(desc, args, location, session)

	result, err := d.invoke(ctx, desc, inv)
	if err != nil {
		execErr := &ExecutionError{Action: call.Name, Err: err}
		d.logger.Warn("Action handler failed", zap.String("action", call.Name), zap.Error(err))
		res := failed(execErr)
		res.Content = d.policy.Redact(res.Content, location)
		return res, execErr
	}

	// Outbound content is redacted before it can reach history or the model.
	result.Content = d.policy.Redact(result.Content, location)
	return result, nil
}

// assemble merges validated arguments with the injected capabilities the
// descriptor declared. Undeclared capabilities stay zero-valued.
func (d *Dispatcher) assemble(desc *registry.Descriptor, args map[string]any, location string, session schemas.Session) registry.Invocation {
	inv := registry.Invocation{Args: args}
	for _, name := range desc.Injects {
		switch name {
		case registry.InjectSession:
			inv.Session = session
		case registry.InjectLocation:
			inv.Location = location
		case registry.InjectContext:
			inv.Context = d.userContext
		case registry.InjectExtractionModel:
			inv.ExtractionModel = d.extractionModel
		case registry.InjectAvailableResources:
			inv.AvailableResources = d.availableResources
		case registry.InjectHasSecrets:
			inv.HasSecrets = d.policy.HasSecrets(location)
		}
	}
	return inv
}

// invoke runs the handler with panic capture.
func (d *Dispatcher) invoke(ctx context.Context, desc *registry.Descriptor, inv registry.Invocation) (result schemas.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return desc.Handler(ctx, inv)
}

// validateArgs checks presence and types against the schema, applies
// defaults, and rejects arguments the schema does not declare. All offending
// fields are reported together.
func (d *Dispatcher) validateArgs(desc *registry.Descriptor, supplied map[string]any) (map[string]any, error) {
	args := make(map[string]any, len(desc.Params))
	var fields []FieldError

	declared := make(map[string]registry.Parameter, len(desc.Params))
	for _, p := range desc.Params {
		declared[p.Name] = p
	}

	for name := range supplied {
		if _, ok := declared[name]; !ok {
			fields = append(fields, FieldError{Field: name, Reason: "not a declared parameter"})
		}
	}

	for _, p := range desc.Params {
		raw, present := supplied[p.Name]
		if !present || raw == nil {
			switch {
			case p.Default != nil:
				args[p.Name] = p.Default
			case p.Required:
				fields = append(fields, FieldError{Field: p.Name, Reason: "required"})
			}
			continue
		}
		value, ok := coerce(p.Type, raw)
		if !ok {
			fields = append(fields, FieldError{Field: p.Name, Reason: fmt.Sprintf("expected %s, got %T", p.Type, raw)})
			continue
		}
		args[p.Name] = value
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Action: desc.Name, Fields: fields}
	}
	return args, nil
}

// coerce normalizes a JSON-decoded value to the declared parameter type.
// Numbers arrive as float64 from the model's JSON, so integer parameters
// accept whole floats.
func coerce(t registry.ParamType, raw any) (any, bool) {
	switch t {
	case registry.ParamString:
		s, ok := raw.(string)
		return s, ok
	case registry.ParamInteger:
		switch v := raw.(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			if v == math.Trunc(v) {
				return int(v), true
			}
		}
		return nil, false
	case registry.ParamNumber:
		switch v := raw.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		}
		return nil, false
	case registry.ParamBoolean:
		b, ok := raw.(bool)
		return b, ok
	}
	return raw, true
}

// failed builds the structured result for a dispatch-level failure.
func failed(err error) schemas.ActionResult {
	return schemas.ActionResult{Error: err.Error()}
}
