// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// SplitList parses a comma separated query value ("pending, completed,,pending")
// into its distinct lowercase members, preserving first-seen order.
// An empty input yields nil so callers can treat it as "no filter".
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrimLower(strings.Split(raw, ","))
}

// DedupeAndTrimLower removes duplicates and empty strings from a slice,
// trimming and lowercasing each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrimLower([]string{"  FOO ", "bar", "Foo", ""})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}
