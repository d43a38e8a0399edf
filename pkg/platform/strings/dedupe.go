// Package strings provides string list helpers.
package strings

import (
	"strings"
)

// SplitList splits a comma separated value into its trimmed, non-empty,
// distinct entries. Order is preserved.
//
//	SplitList(" a, b ,a,,")
//	// Returns: []string{"a", "b"}
func SplitList(v string) []string {
	return DedupeAndTrim(strings.Split(v, ","))
}

// DedupeAndTrim removes duplicates and blanks, trimming each element.
func DedupeAndTrim(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
