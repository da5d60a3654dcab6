package httpcache

import "strings"

// Validator is a parsed strong or weak ETag, as used in If-None-Match /
// If-Match and stored as the ETag response header (RFC 9110 §8.8.3).
type Validator struct {
	Opaque string // the quoted-string payload, without quotes
	Weak   bool
}

// String renders the validator back to wire form, preserving the weak
// prefix ("W/") when present.
func (v Validator) String() string {
	if v.Weak {
		return `W/"` + v.Opaque + `"`
	}
	return `"` + v.Opaque + `"`
}

// ParseValidator parses a single ETag field value.
func ParseValidator(s string) (Validator, bool) {
	s = strings.TrimSpace(s)
	weak := false
	if strings.HasPrefix(s, "W/") || strings.HasPrefix(s, "w/") {
		weak = true
		s = s[2:]
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return Validator{}, false
	}
	return Validator{Opaque: s[1 : len(s)-1], Weak: weak}, true
}

// ParseValidatorList parses a comma-separated If-None-Match / If-Match list,
// including the literal "*" wildcard represented as a single entry with
// Opaque "*" and Weak=false, distinguishable via IsWildcard.
func ParseValidatorList(s string) []Validator {
	s = strings.TrimSpace(s)
	if s == "*" {
		return []Validator{wildcardValidator}
	}
	var out []Validator
	for _, part := range splitValidatorList(s) {
		if v, ok := ParseValidator(strings.TrimSpace(part)); ok {
			out = append(out, v)
		}
	}
	return out
}

var wildcardValidator = Validator{Opaque: "*"}

// IsWildcard reports whether v represents the "*" validator.
func (v Validator) IsWildcard() bool { return v == wildcardValidator }

// splitValidatorList splits a comma-separated list of quoted validators,
// respecting commas that might (in principle) appear inside the quoted
// opaque-tag; RFC 9110's etagc grammar excludes raw commas and quotes from
// the opaque tag, so a naive split is safe in practice.
func splitValidatorList(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			depth ^= 1
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// StrongMatch implements the strong comparison function (RFC 9110 §8.8.3.2):
// two validators match iff neither is weak and their opaque tags are equal.
func StrongMatch(a, b Validator) bool {
	return !a.Weak && !b.Weak && a.Opaque == b.Opaque
}

// WeakMatch implements the weak comparison function: opaque tags equal,
// regardless of either validator's weak bit.
func WeakMatch(a, b Validator) bool {
	return a.Opaque == b.Opaque
}
