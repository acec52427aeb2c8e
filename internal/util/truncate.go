package util

import "fmt"

// DefaultLogMaxLen bounds generated-text fragments written to the log.
const DefaultLogMaxLen = 256

// Truncate shortens long strings for log output. Generated completions and
// upstream error bodies can be arbitrarily large; logs only need the head.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
