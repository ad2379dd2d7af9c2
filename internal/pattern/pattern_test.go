package pattern_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-dogma/dogma/internal/pattern"
)

func TestMatchExactSegment(t *testing.T) {
	p := pattern.Compile("/a/b.json")

	assert.True(t, p.Match("/a/b.json"))
	assert.False(t, p.Match("/a/c.json"))
	assert.False(t, p.Match("/a/b/c.json"))
}

func TestMatchSingleWildcard(t *testing.T) {
	p := pattern.Compile("/a/*.json")

	assert.True(t, p.Match("/a/b.json"))
	assert.True(t, p.Match("/a/anything.json"))
	assert.False(t, p.Match("/a/b/c.json"))
	assert.False(t, p.Match("/a/b.txt"))
}

func TestMatchDoubleWildcard(t *testing.T) {
	p := pattern.Compile("/a/**")

	assert.True(t, p.Match("/a/b.json"))
	assert.True(t, p.Match("/a/b/c/d.json"))
	assert.False(t, p.Match("/b/c.json"))
}

func TestMatchAlternatives(t *testing.T) {
	p := pattern.Compile("/a/*.json, /b/*.txt")

	assert.True(t, p.Match("/a/x.json"))
	assert.True(t, p.Match("/b/y.txt"))
	assert.False(t, p.Match("/c/z.json"))
}

func TestEmptyPatternMatchesAll(t *testing.T) {
	p := pattern.Compile("")

	assert.True(t, p.Match("/anything/at/all.json"))
	assert.True(t, p.MatchesAll())
}

func TestMatchesAll(t *testing.T) {
	assert.True(t, pattern.Compile("/**").MatchesAll())
	assert.False(t, pattern.Compile("/a/**").MatchesAll())
	assert.False(t, pattern.Compile("/a/*.json").MatchesAll())
}

func TestStringReturnsRaw(t *testing.T) {
	p := pattern.Compile("/a/*.json")
	assert.Equal(t, "/a/*.json", p.String())
}
