// Package security enforces the two safety guarantees of a run: actions only
// execute against allow-listed origins, and secret values never appear in
// model-visible text while still being usable inside the environment.
package security

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// placeholderRe matches <secret>name</secret> tokens in action arguments.
var placeholderRe = regexp.MustCompile(`<secret>([a-zA-Z0-9_.-]+)</secret>`)

// binding scopes a set of named secret values to one origin pattern.
type binding struct {
	scope   OriginPattern
	secrets map[string]string
}

// Policy combines the origin allow-list with the secret vault. It is
// configured once before a run starts and is safe for concurrent read use
// across orchestrators afterwards.
type Policy struct {
	logger   *zap.Logger
	allowed  []OriginPattern
	bindings []binding
}

// NewPolicy validates each allow-list pattern and builds the policy. An empty
// allow-list leaves navigation unrestricted; Bind refuses secret scopes in
// that configuration so secrets cannot exist without a lockdown.
func NewPolicy(logger *zap.Logger, allowedPatterns []string) (*Policy, error) {
	p := &Policy{logger: logger.Named("security")}
	for _, raw := range allowedPatterns {
		pat, err := ValidatePattern(raw)
		if err != nil {
			return nil, err
		}
		p.allowed = append(p.allowed, pat)
	}
	return p, nil
}

// Allowed reports whether the location is inside the allow-list. With no
// patterns configured every location is permitted.
func (p *Policy) Allowed(location string) bool {
	if len(p.allowed) == 0 {
		return true
	}
	for _, pat := range p.allowed {
		if pat.Matches(location) {
			return true
		}
	}
	return false
}

// AllowList returns the canonical form of the configured patterns.
func (p *Policy) AllowList() []string {
	out := make([]string, 0, len(p.allowed))
	for _, pat := range p.allowed {
		out = append(out, pat.String())
	}
	return out
}

// Bind installs secret values scoped to origin patterns. Every scope must be
// covered by the allow-list; otherwise a compromised page outside the
// lockdown could coax the agent into typing a secret. Fails with a
// *ViolationError before any binding is installed.
func (p *Policy) Bind(secrets map[string]map[string]string) error {
	if len(secrets) == 0 {
		return nil
	}
	if len(p.allowed) == 0 {
		return &ViolationError{Op: "bind", Subject: "secrets without an origin allow-list"}
	}

	staged := make([]binding, 0, len(secrets))
	for rawScope, values := range secrets {
		scope, err := ValidatePattern(rawScope)
		if err != nil {
			return err
		}
		covered := false
		for _, pat := range p.allowed {
			if pat.Covers(scope) {
				covered = true
				break
			}
		}
		if !covered {
			return &ViolationError{Op: "bind", Subject: rawScope}
		}
		staged = append(staged, binding{scope: scope, secrets: values})
	}

	// Deterministic order keeps redaction output stable across runs.
	sort.Slice(staged, func(i, j int) bool {
		return staged[i].scope.String() < staged[j].scope.String()
	})
	p.bindings = append(p.bindings, staged...)
	p.logger.Info("Secret bindings installed", zap.Int("scopes", len(staged)))
	return nil
}

// secretsFor merges every binding whose scope matches the location.
func (p *Policy) secretsFor(location string) map[string]string {
	var merged map[string]string
	for _, b := range p.bindings {
		if !b.scope.Matches(location) {
			continue
		}
		if merged == nil {
			merged = make(map[string]string, len(b.secrets))
		}
		for name, value := range b.secrets {
			merged[name] = value
		}
	}
	return merged
}

// Substitute replaces every <secret>name</secret> token bound at the current
// location with its literal value. Tokens with no binding, or whose bound
// value is empty, are left unchanged and reported as warnings.
func (p *Policy) Substitute(text, location string) (string, []SubstitutionWarning) {
	if !strings.Contains(text, "<secret>") {
		return text, nil
	}
	bound := p.secretsFor(location)

	var warnings []SubstitutionWarning
	out := placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
		name := placeholderRe.FindStringSubmatch(token)[1]
		if value, ok := bound[name]; ok && value != "" {
			return value
		}
		warnings = append(warnings, SubstitutionWarning{Placeholder: name, Location: location})
		return token
	})

	for _, w := range warnings {
		p.logger.Warn("Secret placeholder left unresolved", zap.String("placeholder", w.Placeholder))
	}
	return out, warnings
}

// Redact is the inverse pass applied to outbound content: every literal
// secret value bound at the location is replaced with its placeholder token,
// so extracted page text can never leak a secret back into history or the
// model context.
func (p *Policy) Redact(text, location string) string {
	bound := p.secretsFor(location)
	if len(bound) == 0 || text == "" {
		return text
	}

	// Replace longer values first so an overlapping shorter secret cannot
	// split a longer one mid-replacement.
	names := make([]string, 0, len(bound))
	for name, value := range bound {
		if value != "" {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(bound[names[i]]) != len(bound[names[j]]) {
			return len(bound[names[i]]) > len(bound[names[j]])
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		text = strings.ReplaceAll(text, bound[name], "<secret>"+name+"</secret>")
	}
	return text
}

// HasSecrets reports whether any binding applies at the location. Dispatch
// uses it to set the contains-secret capability flag for handlers.
func (p *Policy) HasSecrets(location string) bool {
	for _, b := range p.bindings {
		if b.scope.Matches(location) {
			return true
		}
	}
	return false
}
