package strutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoin(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"empty", nil, ""},
		{"single", []string{"/tmp/multi-0/in_0"}, "/tmp/multi-0/in_0"},
		{
			"multiple",
			[]string{"/tmp/multi-0/in_0", "/tmp/multi-0/in_1", "/tmp/multi-0/in_2"},
			"/tmp/multi-0/in_0 /tmp/multi-0/in_1 /tmp/multi-0/in_2",
		},
		{
			"skips absent slots",
			[]string{"/tmp/multi-0/in_0", "", "/tmp/multi-0/in_2"},
			"/tmp/multi-0/in_0 /tmp/multi-0/in_2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Join(tt.paths, " "))
		})
	}
}

func TestReplaceFirst(t *testing.T) {
	tests := []struct {
		name        string
		src         string
		placeholder string
		value       string
		want        string
	}{
		{"no placeholder", "cat", "{}", "/tmp/a /tmp/b", "cat"},
		{"single placeholder", "cat {} | sort", "{}", "/tmp/a /tmp/b", "cat /tmp/a /tmp/b | sort"},
		{
			"only first occurrence replaced",
			"echo {} {}",
			"{}",
			"X",
			"echo X {}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ReplaceFirst(tt.src, tt.placeholder, tt.value))
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "tr a-z A-Z", "tr a-z A-Z"},
		{"newlines escaped", "line1\nline2", `line1\nline2`},
		{"control bytes escaped", "a\x00b", `a\x00b`},
		{"backslash escaped", `a\b`, `a\\b`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeForLog(tt.in))
		})
	}
}

func TestSanitizeForLogTruncates(t *testing.T) {
	got := SanitizeForLog(strings.Repeat("x", 500))
	require.Len(t, got, maxLogValueLen+len("...[truncated]"))
	require.True(t, strings.HasSuffix(got, "...[truncated]"))
}
