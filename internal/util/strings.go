// Package util provides shared utility functions used across the codebase.
package util

import "strings"

// TruncateString truncates a string to maxLen runes, adding "..." if truncated.
// Counting runes rather than bytes keeps multi-byte characters intact.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// FirstLine returns the first non-empty line of s with surrounding
// whitespace trimmed. Useful for one-line previews of multi-line output.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
