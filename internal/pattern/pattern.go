// Package pattern implements the path-pattern matching rules of spec.md
// §3/§4.1: "*" matches one path segment, "**" matches zero or more
// segments, and a comma-separated list is an alternative of patterns.
package pattern

import (
	"strings"

	"github.com/tidwall/match"
)

// Pattern is a compiled, possibly comma-separated set of alternatives.
type Pattern struct {
	alternatives []alternative
	raw          string
}

type alternative struct {
	segments []string // "**" kept literally, "*" kept literally, others are glob segments
	isDir    bool     // pattern ends with "/" — requires matching a directory path
}

// Compile parses raw into a Pattern. An empty pattern is treated as "/**"
// (match everything), matching spec.md's "match-all" equivalence used by
// history()'s commit-1 inclusion rule.
func Compile(raw string) *Pattern {
	if raw == "" {
		raw = "/**"
	}

	parts := strings.Split(raw, ",")
	alts := make([]alternative, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		alts = append(alts, alternative{
			segments: strings.Split(strings.TrimPrefix(p, "/"), "/"),
			isDir:    strings.HasSuffix(p, "/"),
		})
	}

	return &Pattern{alternatives: alts, raw: raw}
}

// MustCompile panics on construction errors. Pattern.Compile never
// actually errors today, but this mirrors the idiom used for the other
// compiled-matcher packages in the ecosystem and leaves room for future
// validation (e.g. rejecting "***" ).
func MustCompile(raw string) *Pattern {
	return Compile(raw)
}

// String returns the original pattern text.
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether path (an absolute, slash-separated, non-directory
// path such as "/a/b.json") matches the pattern.
func (p *Pattern) Match(path string) bool {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")

	for _, alt := range p.alternatives {
		if matchSegments(alt.segments, segments) {
			return true
		}
	}

	return false
}

// MatchesAll reports whether any alternative of the pattern is the
// universal pattern "/**", the form that qualifies for history()'s
// commit-1 inclusion rule ("the pattern is /** or equivalent match-all").
func (p *Pattern) MatchesAll() bool {
	for _, alt := range p.alternatives {
		if len(alt.segments) == 1 && alt.segments[0] == "**" {
			return true
		}
	}

	return false
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	head := pattern[0]

	if head == "**" {
		if matchSegments(pattern[1:], path) {
			return true
		}

		if len(path) == 0 {
			return false
		}

		return matchSegments(pattern, path[1:])
	}

	if len(path) == 0 {
		return false
	}

	if !match.Match(path[0], head) {
		return false
	}

	return matchSegments(pattern[1:], path[1:])
}
