// Package pattern provides anchored wildcard matching for host patterns.
//
// Matching behavior:
//
//   - Exact (no wildcard): Case-insensitive exact match
//     Example: "app.example" matches "app.example", "APP.EXAMPLE"
//
//   - Wildcard (*): Case-insensitive, * matching any run of characters
//     Example: "*.example" matches "app.example", "www.app.example"
//
// The match is always anchored: the whole input must be covered by the
// pattern. Characters other than * carry no special meaning.
package pattern

import "strings"

// IsWildcard reports whether the pattern contains a * wildcard.
func IsWildcard(pattern string) bool {
	return strings.Contains(pattern, "*")
}

// Match tests input against pattern, case-insensitively.
// Patterns without a wildcard are compared for equality.
func Match(pattern, input string) bool {
	if !IsWildcard(pattern) {
		return strings.EqualFold(pattern, input)
	}
	return MatchWildcard(strings.ToLower(input), strings.ToLower(pattern))
}

// MatchWildcard performs anchored wildcard matching on raw strings.
// The wildcard * matches any sequence of characters (including none);
// multiple wildcards are supported.
//
// Examples:
//   - MatchWildcard("app.example", "*.example") → true
//   - MatchWildcard("a.b.example", "*.example") → true (recursive matching)
//   - MatchWildcard("anything", "*") → true (catch-all)
func MatchWildcard(text, pattern string) bool {
	// If no wildcard, do exact match
	if !strings.Contains(pattern, "*") {
		return text == pattern
	}

	// Split pattern by wildcards
	parts := strings.Split(pattern, "*")

	// Text must start with first part
	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	// Text must end with last part
	if !strings.HasSuffix(text, parts[len(parts)-1]) {
		return false
	}
	text = text[:len(text)-len(parts[len(parts)-1])]

	// Check middle parts exist in order
	for i := 1; i < len(parts)-1; i++ {
		if parts[i] == "" {
			continue
		}
		idx := strings.Index(text, parts[i])
		if idx == -1 {
			return false
		}
		text = text[idx+len(parts[i]):]
	}

	return true
}
