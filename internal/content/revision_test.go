package content_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/content"
)

func TestRevisionNormalizeAbsolute(t *testing.T) {
	abs, err := content.Revision(3).Normalize(5)
	require.NoError(t, err)
	assert.Equal(t, content.Revision(3), abs)
}

func TestRevisionNormalizeZeroIsHead(t *testing.T) {
	abs, err := content.Revision(0).Normalize(5)
	require.NoError(t, err)
	assert.Equal(t, content.Revision(5), abs)
}

func TestRevisionNormalizeNegativeIsRelative(t *testing.T) {
	abs, err := content.Revision(-1).Normalize(5)
	require.NoError(t, err)
	assert.Equal(t, content.Revision(5), abs)

	abs, err = content.Revision(-2).Normalize(5)
	require.NoError(t, err)
	assert.Equal(t, content.Revision(4), abs)
}

func TestRevisionNormalizeOutOfRange(t *testing.T) {
	_, err := content.Revision(99).Normalize(5)
	assert.Error(t, err)

	_, err = content.Revision(-10).Normalize(5)
	assert.Error(t, err)
}

func TestRevisionIsAbsolute(t *testing.T) {
	assert.True(t, content.Revision(1).IsAbsolute())
	assert.False(t, content.Revision(0).IsAbsolute())
	assert.False(t, content.Revision(-1).IsAbsolute())
}
