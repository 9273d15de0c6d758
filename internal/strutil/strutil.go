// Package strutil provides small, pure string helpers: expansion of the
// "{}" placeholder in splitter/combiner command templates, and rendering of
// user-controlled strings for log lines.
package strutil

import (
	"strconv"
	"strings"
)

// maxLogValueLen bounds how much of a user-supplied value a single log line
// carries.
const maxLogValueLen = 100

// Join concatenates paths with sep, skipping empty entries. An empty entry
// corresponds to a FIFO slot whose creation failed (see fifoset.Set), and
// is omitted rather than producing a stray separator in the expanded
// command line.
func Join(paths []string, sep string) string {
	nonEmpty := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, sep)
}

// ReplaceFirst returns src with the first occurrence of placeholder replaced
// by value. If placeholder does not occur in src, it returns src unchanged.
// Later occurrences are left alone.
func ReplaceFirst(src, placeholder, value string) string {
	return strings.Replace(src, placeholder, value, 1)
}

// SanitizeForLog renders a user-controlled string (a shell command template,
// a captured stderr tail) fit for a single log line: control and
// non-printable bytes are escaped, overlong values truncated.
func SanitizeForLog(s string) string {
	truncated := len(s) > maxLogValueLen
	if truncated {
		s = s[:maxLogValueLen]
	}
	quoted := strconv.Quote(s)
	s = quoted[1 : len(quoted)-1]
	if truncated {
		s += "...[truncated]"
	}
	return s
}
