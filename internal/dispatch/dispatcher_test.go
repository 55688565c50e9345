package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/api/schemas"
	"github.com/pagewarden/pagewarden/internal/registry"
	"github.com/pagewarden/pagewarden/internal/security"
)

func newTestPolicy(t *testing.T, allowed ...string) *security.Policy {
	t.Helper()
	p, err := security.NewPolicy(zap.NewNop(), allowed)
	require.NoError(t, err)
	return p
}

func newDispatcher(t *testing.T, reg *registry.Registry, policy *security.Policy, opts ...Option) *Dispatcher {
	t.Helper()
	return New(zap.NewNop(), reg, policy, opts...)
}

func TestExecute_UnknownAction(t *testing.T) {
	reg := registry.New(zap.NewNop())
	d := newDispatcher(t, reg, newTestPolicy(t))

	result, err := d.Execute(context.Background(), schemas.ActionCall{Name: "missing"}, "https://example.com", nil)
	var unknown *registry.UnknownActionError
	require.ErrorAs(t, err, &unknown)
	assert.True(t, result.IsError())
}

func TestExecute_OriginScopeBlocksBeforeSubstitution(t *testing.T) {
	policy := newTestPolicy(t, "example.com", "other.com")
	require.NoError(t, policy.Bind(map[string]map[string]string{
		"example.com": {"pw": "hunter2"},
	}))

	scope, err := security.ValidatePattern("example.com")
	require.NoError(t, err)

	var handlerRan bool
	reg := registry.New(zap.NewNop())
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name:   "login",
		Scope:  &scope,
		Params: []registry.Parameter{{Name: "password", Type: registry.ParamString, Required: true}},
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			handlerRan = true
			return schemas.ActionResult{}, nil
		},
	}))

	d := newDispatcher(t, reg, policy)
	call := schemas.ActionCall{Name: "login", Args: map[string]any{"password": "<secret>pw</secret>"}}

	result, err := d.Execute(context.Background(), call, "https://other.com", nil)
	var violation *security.ViolationError
	require.ErrorAs(t, err, &violation)
	assert.False(t, handlerRan, "handler must not run for a blocked action")
	assert.True(t, result.IsError())
	assert.NotContains(t, result.Error, "hunter2", "blocked call must see zero substitution")
}

func TestExecute_ValidationCollectsAllFields(t *testing.T) {
	reg := registry.New(zap.NewNop())
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name: "input_text",
		Params: []registry.Parameter{
			{Name: "index", Type: registry.ParamInteger, Required: true},
			{Name: "text", Type: registry.ParamString, Required: true},
		},
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			return schemas.ActionResult{}, nil
		},
	}))
	d := newDispatcher(t, reg, newTestPolicy(t))

	call := schemas.ActionCall{Name: "input_text", Args: map[string]any{
		"index": "not-a-number",
		"bogus": true,
	}}
	_, err := d.Execute(context.Background(), call, "https://example.com", nil)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	reasons := map[string]string{}
	for _, f := range verr.Fields {
		reasons[f.Field] = f.Reason
	}
	assert.Len(t, verr.Fields, 3, "every offending field is reported: %v", verr.Fields)
	assert.Contains(t, reasons, "index")
	assert.Contains(t, reasons, "text")
	assert.Contains(t, reasons, "bogus")
}

func TestExecute_DefaultsApplied(t *testing.T) {
	reg := registry.New(zap.NewNop())
	var seen registry.Invocation
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name: "scroll",
		Params: []registry.Parameter{
			{Name: "direction", Type: registry.ParamString, Default: "down"},
		},
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			seen = inv
			return schemas.ActionResult{Content: "scrolled"}, nil
		},
	}))
	d := newDispatcher(t, reg, newTestPolicy(t))

	_, err := d.Execute(context.Background(), schemas.ActionCall{Name: "scroll"}, "https://example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "down", seen.String("direction"))
}

func TestExecute_SecretSubstitutionAndRedaction(t *testing.T) {
	policy := newTestPolicy(t, "example.com")
	require.NoError(t, policy.Bind(map[string]map[string]string{
		"example.com": {"x_pw": "secret1"},
	}))

	reg := registry.New(zap.NewNop())
	var typed string
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name:    "type_password",
		Params:  []registry.Parameter{{Name: "text", Type: registry.ParamString, Required: true}},
		Injects: []string{registry.InjectHasSecrets},
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			typed = inv.String("text")
			assert.True(t, inv.HasSecrets)
			// Echo the raw value, as a page scraper would.
			return schemas.ActionResult{Content: "typed " + typed}, nil
		},
	}))
	d := newDispatcher(t, reg, policy)

	call := schemas.ActionCall{Name: "type_password", Args: map[string]any{"text": "<secret>x_pw</secret>"}}
	result, err := d.Execute(context.Background(), call, "https://example.com", nil)
	require.NoError(t, err)

	assert.Equal(t, "secret1", typed, "the handler receives the literal value")
	assert.Equal(t, "typed <secret>x_pw</secret>", result.Content, "outbound content is redacted")
}

func TestExecute_HandlerErrorWrapped(t *testing.T) {
	reg := registry.New(zap.NewNop())
	boom := errors.New("element not found: #login")
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name: "click_element",
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			return schemas.ActionResult{}, boom
		},
	}))
	d := newDispatcher(t, reg, newTestPolicy(t))

	result, err := d.Execute(context.Background(), schemas.ActionCall{Name: "click_element"}, "https://example.com", nil)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, execErr, boom, "original error preserved")
	assert.Contains(t, result.Error, "element not found")
}

func TestExecute_HandlerPanicCaptured(t *testing.T) {
	reg := registry.New(zap.NewNop())
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name: "explode",
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			panic("nil selector map")
		},
	}))
	d := newDispatcher(t, reg, newTestPolicy(t))

	result, err := d.Execute(context.Background(), schemas.ActionCall{Name: "explode"}, "https://example.com", nil)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, result.Error, "handler panic")
}

func TestExecute_InjectedArguments(t *testing.T) {
	reg := registry.New(zap.NewNop())
	type userCtx struct{ Tenant string }

	var seen registry.Invocation
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name: "inspect",
		Injects: []string{
			registry.InjectLocation,
			registry.InjectContext,
			registry.InjectAvailableResources,
		},
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			seen = inv
			return schemas.ActionResult{}, nil
		},
	}))

	d := newDispatcher(t, reg, newTestPolicy(t),
		WithUserContext(userCtx{Tenant: "acme"}),
		WithAvailableResources([]string{"report.csv"}),
	)

	_, err := d.Execute(context.Background(), schemas.ActionCall{Name: "inspect"}, "https://example.com/a", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", seen.Location)
	assert.Equal(t, userCtx{Tenant: "acme"}, seen.Context)
	assert.Equal(t, []string{"report.csv"}, seen.AvailableResources)
	assert.Nil(t, seen.Session, "undeclared capabilities stay zero-valued")
}
