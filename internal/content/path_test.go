package content_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-dogma/dogma/internal/content"
)

func TestValidatePath(t *testing.T) {
	assert.NoError(t, content.ValidatePath("/a/b.json", false))
	assert.Error(t, content.ValidatePath("a/b.json", false))
	assert.Error(t, content.ValidatePath("/a//b.json", false))
	assert.Error(t, content.ValidatePath("/a/../b.json", false))
	assert.Error(t, content.ValidatePath("/a/", false))
	assert.NoError(t, content.ValidatePath("/a/", true))
}

func TestIsDirectoryPath(t *testing.T) {
	assert.True(t, content.IsDirectoryPath("/"))
	assert.True(t, content.IsDirectoryPath("/a/"))
	assert.False(t, content.IsDirectoryPath("/a/b.json"))
}

func TestParentDirs(t *testing.T) {
	assert.Equal(t, []string{"/a/b/", "/a/", "/"}, content.ParentDirs("/a/b/c.json"))
	assert.Equal(t, []string{"/"}, content.ParentDirs("/c.json"))
}
