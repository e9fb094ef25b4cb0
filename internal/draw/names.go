package draw

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NamePolicy decides when two claimant names denote the same person.
type NamePolicy string

const (
	// CaseInsensitive folds case with full Unicode case folding, so
	// "alice" and "ALICE" collide, as do "ß" and "SS".
	CaseInsensitive NamePolicy = "case_insensitive"
	// CaseSensitive compares normalised names byte for byte.
	CaseSensitive NamePolicy = "case_sensitive"
)

// ParseNamePolicy maps a configuration value to a policy. Empty selects
// CaseInsensitive.
func ParseNamePolicy(value string) (NamePolicy, error) {
	switch NamePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", CaseInsensitive:
		return CaseInsensitive, nil
	case CaseSensitive:
		return CaseSensitive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNamePolicy, value)
	}
}

// Key returns the comparison key for name under the policy.
func (p NamePolicy) Key(name string) string {
	key := norm.NFC.String(strings.TrimSpace(name))
	if p == CaseSensitive {
		return key
	}
	// Casers carry state and are not shared.
	return norm.NFC.String(cases.Fold().String(key))
}

// Match reports whether a and b name the same claimant.
func (p NamePolicy) Match(a, b string) bool {
	return p.Key(a) == p.Key(b)
}

// Matcher returns a predicate comparing names against name.
func (p NamePolicy) Matcher(name string) func(string) bool {
	key := p.Key(name)
	return func(other string) bool {
		return p.Key(other) == key
	}
}
