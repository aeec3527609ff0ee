// Package strings provides common string utilities shared by the
// render and tui layers.
package strings

import "strings"

// Truncate shortens a string to n characters with an ellipsis.
// If n < 4, uses n = 4 to ensure room for "...".
func Truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// FirstLine returns the first line of s, truncated to n characters.
func FirstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return Truncate(s, n)
}

// ShortID abbreviates an identifier to its first 8 characters.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
