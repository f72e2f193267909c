// Package match evaluates glob patterns against object keys using
// doublestar semantics, and derives the static listing prefix of a pattern
// so storage listings can be narrowed before matching.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

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

// Glob is a validated pattern. It is safe for concurrent use.
type Glob struct {
	pattern string
	prefix  string
}

// Compile validates pattern. "*" stays within one path segment and "**"
// crosses segments, as in doublestar.
func Compile(pattern string) (*Glob, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, &PatternError{Pattern: pattern, Err: ErrInvalidPattern}
	}
	return &Glob{pattern: pattern, prefix: DerivePrefix(pattern)}, nil
}

// Pattern returns the pattern text.
func (g *Glob) Pattern() string { return g.pattern }

// Prefix returns the listing prefix: the pattern up to the last "/" before
// the first unescaped metacharacter. A pattern without metacharacters is its
// own prefix.
func (g *Glob) Prefix() string { return g.prefix }

// Match reports whether key matches the pattern.
func (g *Glob) Match(key string) bool {
	ok, err := doublestar.Match(g.pattern, key)
	return err == nil && ok
}

// Filter returns the keys that match, preserving order.
func (g *Glob) Filter(keys []string) []string {
	var out []string
	for _, k := range keys {
		if g.Match(k) {
			out = append(out, k)
		}
	}
	return out
}

// IsGlobPattern reports whether pattern has an unescaped metacharacter.
//
//	"data/**/*.parquet"  → true
//	"data/file\*.txt"    → false (escaped asterisk is literal)
//	"path/to/file.txt"   → false
func IsGlobPattern(pattern string) bool {
	return firstMeta(pattern) >= 0
}

// DerivePrefix extracts the longest static directory prefix of pattern.
//
//	"data/2024/**/*.parquet" → "data/2024/"
//	"*.json"                 → ""
//	"logs/app-{a,b}/*.log"   → "logs/"
//	"exact/path/file.txt"    → "exact/path/file.txt"
//	"data/file\*.txt"        → "data/file*.txt"
func DerivePrefix(pattern string) string {
	i := firstMeta(pattern)
	switch {
	case i < 0:
		return unescape(pattern)
	case i == 0:
		return ""
	}
	head := pattern[:i]
	slash := strings.LastIndex(head, "/")
	if slash < 0 {
		return ""
	}
	return unescape(head[:slash+1])
}

func isMeta(c byte) bool {
	return c == '*' || c == '?' || c == '[' || c == '{'
}

// firstMeta returns the index of the first unescaped metacharacter or -1.
func firstMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			i++
			continue
		}
		if isMeta(c) {
			return i
		}
	}
	return -1
}

// unescape turns glob escapes into the literal key characters.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte(`*?[]{}\`, s[i+1]) >= 0 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
