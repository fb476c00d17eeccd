// Package match filters object keys with doublestar glob patterns.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Set is a compiled list of patterns. A key matches the set when it
// matches any pattern. The zero Set matches nothing.
//
// Set is safe for concurrent use.
type Set struct {
	patterns []string
}

// Compile normalizes and validates patterns. Empty entries are skipped.
func Compile(patterns []string) (*Set, error) {
	s := &Set{patterns: make([]string, 0, len(patterns))}
	for _, raw := range patterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		normalized := NormalizePattern(raw)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
		s.patterns = append(s.patterns, normalized)
	}
	return s, nil
}

// Match reports whether key matches any pattern. Keys are matched as-is.
func (s *Set) Match(key string) bool {
	if s == nil {
		return false
	}
	for _, p := range s.patterns {
		if ok, err := doublestar.Match(p, key); err == nil && ok {
			return true
		}
	}
	return false
}

// Len returns the number of patterns in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.patterns)
}

// Patterns returns the normalized patterns.
func (s *Set) Patterns() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.patterns...)
}

// NormalizePattern converts unescaped backslashes to forward slashes and
// keeps escape sequences for glob metacharacters.
//
//	"data\2024\**"     → "data/2024/**"
//	"data/file\*.txt"  → "data/file\*.txt"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}
