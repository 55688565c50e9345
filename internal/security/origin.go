package security

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// OriginPattern is a validated scheme+host match rule. The zero value matches
// nothing; patterns are only produced by ValidatePattern.
//
// Matching rules:
//   - an exact-host pattern matches only that host under the stated scheme;
//   - a leading-wildcard pattern ("*.example.com") matches the apex domain
//     AND every subdomain of it. The apex-included rule is deliberate and
//     fixed (see DESIGN.md);
//   - the bare pattern "*" matches every location. It exists as an explicit
//     escape hatch and should not appear in production allow-lists.
//
// A pattern without a scheme defaults to https.
type OriginPattern struct {
	scheme   string
	host     string // lowercase; for wildcard patterns this is the apex
	wildcard bool
	allowAll bool
}

// ValidatePattern parses and validates an origin pattern string. Invalid
// wildcard placement (non-leading, partial-token, multi-level, or a wildcard
// whose remainder is nothing but a public suffix) fails with a
// *ValidationError.
func ValidatePattern(pattern string) (OriginPattern, error) {
	raw := strings.TrimSpace(pattern)
	if raw == "" {
		return OriginPattern{}, &ValidationError{Pattern: pattern, Reason: "empty pattern"}
	}

	if raw == "*" {
		return OriginPattern{allowAll: true}, nil
	}

	scheme := "https"
	rest := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = strings.ToLower(raw[:i])
		rest = raw[i+len("://"):]
		if scheme == "" || strings.Contains(scheme, "*") {
			return OriginPattern{}, &ValidationError{Pattern: pattern, Reason: "scheme must be a literal, non-empty token"}
		}
	}

	host := strings.ToLower(strings.TrimSuffix(rest, "/"))
	if host == "" {
		return OriginPattern{}, &ValidationError{Pattern: pattern, Reason: "missing host"}
	}
	if strings.ContainsAny(host, "/ ?#") {
		return OriginPattern{}, &ValidationError{Pattern: pattern, Reason: "pattern must not contain a path or query"}
	}

	wildcards := strings.Count(host, "*")
	if wildcards == 0 {
		return OriginPattern{scheme: scheme, host: host}, nil
	}
	if wildcards > 1 {
		return OriginPattern{}, &ValidationError{Pattern: pattern, Reason: "at most one wildcard label is allowed"}
	}
	if !strings.HasPrefix(host, "*.") {
		return OriginPattern{}, &ValidationError{Pattern: pattern, Reason: "wildcard must be a whole leading label (\"*.host\")"}
	}

	apex := host[len("*."):]
	if apex == "" || strings.Contains(apex, "*") {
		return OriginPattern{}, &ValidationError{Pattern: pattern, Reason: "wildcard must be followed by a literal host"}
	}
	// "*.com", "*.co.uk" and friends would allow-list entire registries.
	if suffix, _ := publicsuffix.PublicSuffix(apex); suffix == apex {
		return OriginPattern{}, &ValidationError{Pattern: pattern, Reason: "wildcard over a public suffix is not allowed"}
	}

	return OriginPattern{scheme: scheme, host: apex, wildcard: true}, nil
}

// String renders the canonical pattern form. Validating the rendered string
// again yields an identical pattern.
func (p OriginPattern) String() string {
	if p.allowAll {
		return "*"
	}
	host := p.host
	if p.wildcard {
		host = "*." + host
	}
	return p.scheme + "://" + host
}

// Matches reports whether the given location URL falls inside this pattern.
func (p OriginPattern) Matches(location string) bool {
	if p.allowAll {
		return true
	}
	u, err := url.Parse(location)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if !strings.EqualFold(u.Scheme, p.scheme) {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if !p.wildcard {
		return host == p.host
	}
	return host == p.host || strings.HasSuffix(host, "."+p.host)
}

// Covers reports whether this pattern fully contains another pattern, i.e.
// every location the other pattern can match is also matched by this one.
// Used to cross-check secret scopes against the allow-list at bind time.
func (p OriginPattern) Covers(other OriginPattern) bool {
	if p.allowAll {
		return true
	}
	if other.allowAll {
		return false
	}
	if p.scheme != other.scheme {
		return false
	}
	if !p.wildcard {
		return !other.wildcard && p.host == other.host
	}
	return other.host == p.host || strings.HasSuffix(other.host, "."+p.host)
}
