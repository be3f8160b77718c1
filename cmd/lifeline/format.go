package main

import (
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// orDash returns *s, or "-" when s is nil or blank.
func orDash(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "-"
	}
	return *s
}

// truncate shortens s to at most n runes, marking the cut with "...".
// Newlines are flattened so a value stays on one table row.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// formatTime renders t in UTC, or "-" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}
