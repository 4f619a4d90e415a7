package auth

import (
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// AllowList authorizes principals matching any of its patterns. Patterns
// without wildcards must match exactly; patterns containing '*' or '?' go
// through the wildcard matcher. '.' is always literal. Matching is
// case-insensitive.
type AllowList struct {
	patterns []string
}

// dotPlaceholder stands in for '.' during wildcard matching, where the
// matcher would otherwise treat it as any single character. Principals and
// patterns containing it are rejected.
const dotPlaceholder = "\x00"

// NewAllowList builds an allow-list from patterns, dropping blanks and
// duplicates.
func NewAllowList(patterns ...string) *AllowList {
	seen := make(map[string]struct{}, len(patterns))
	list := &AllowList{patterns: make([]string, 0, len(patterns))}
	for _, pattern := range patterns {
		pattern = normalizePrincipal(pattern)
		if pattern == "" || strings.Contains(pattern, dotPlaceholder) {
			continue
		}
		if _, dup := seen[pattern]; dup {
			continue
		}
		seen[pattern] = struct{}{}
		list.patterns = append(list.patterns, pattern)
	}
	return list
}

// ParseAllowList splits a comma separated list such as the TIERENGINE_ADMINS
// environment variable.
func ParseAllowList(raw string) *AllowList {
	return NewAllowList(strings.Split(raw, ",")...)
}

// Patterns returns the normalized patterns.
func (l *AllowList) Patterns() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.patterns...)
}

// Empty reports whether the list authorizes nobody.
func (l *AllowList) Empty() bool {
	return l == nil || len(l.patterns) == 0
}

// IsAuthorizedAdmin reports whether principal matches a pattern.
func (l *AllowList) IsAuthorizedAdmin(principal string) bool {
	if l == nil {
		return false
	}
	principal = normalizePrincipal(principal)
	if principal == "" || strings.Contains(principal, dotPlaceholder) {
		return false
	}
	for _, pattern := range l.patterns {
		if !strings.ContainsAny(pattern, "*?") {
			if pattern == principal {
				return true
			}
			continue
		}
		if wildcard.Match(literalDots(pattern), literalDots(principal)) {
			return true
		}
	}
	return false
}

func literalDots(s string) string {
	return strings.ReplaceAll(s, ".", dotPlaceholder)
}

func normalizePrincipal(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
