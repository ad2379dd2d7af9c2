package content_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/content"
	"github.com/go-dogma/dogma/internal/dogmaerr"
)

func TestApplyUpsertJSON(t *testing.T) {
	parent := content.NewTree()

	child, diff, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertJSON, Path: "/a.json", JSON: []byte(`{"x":1}`)},
	})
	require.NoError(t, err)

	entry, ok := child.Get("/a.json")
	require.True(t, ok)
	assert.Equal(t, content.EntryJSON, entry.Type)
	assert.JSONEq(t, `{"x":1}`, string(entry.Content))

	require.Contains(t, diff, "/a.json")
	assert.Equal(t, content.ChangeUpsertJSON, diff["/a.json"].Type)
}

func TestApplyRedundantChangeRejected(t *testing.T) {
	parent := content.NewTree()

	child, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertJSON, Path: "/a.json", JSON: []byte(`{"x":1}`)},
	})
	require.NoError(t, err)

	_, _, err = content.Apply(child, 3, []content.Change{
		{Type: content.ChangeUpsertJSON, Path: "/a.json", JSON: []byte(`{ "x" : 1 }`)},
	})
	require.Error(t, err)
	assert.True(t, dogmaerr.Is(err, dogmaerr.KindRedundantChange))
}

func TestApplyRemove(t *testing.T) {
	parent := content.NewTree()
	child, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertText, Path: "/a.txt", Text: "hello"},
	})
	require.NoError(t, err)

	child2, diff, err := content.Apply(child, 3, []content.Change{
		{Type: content.ChangeRemove, Path: "/a.txt"},
	})
	require.NoError(t, err)
	assert.False(t, child2.Exists("/a.txt"))
	assert.Equal(t, content.ChangeRemove, diff["/a.txt"].Type)
}

func TestApplyRemoveNonExistentConflicts(t *testing.T) {
	parent := content.NewTree()

	_, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeRemove, Path: "/missing.txt"},
	})
	require.Error(t, err)
	assert.True(t, dogmaerr.Is(err, dogmaerr.KindChangeConflict))
}

func TestApplyRemoveDirectoryPrefix(t *testing.T) {
	parent := content.NewTree()
	child, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertJSON, Path: "/a/1.json", JSON: []byte(`{}`)},
		{Type: content.ChangeUpsertJSON, Path: "/a/2.json", JSON: []byte(`{}`)},
	})
	require.NoError(t, err)

	child2, _, err := content.Apply(child, 3, []content.Change{
		{Type: content.ChangeRemove, Path: "/a/"},
	})
	require.NoError(t, err)
	assert.False(t, child2.Exists("/a/1.json"))
	assert.False(t, child2.Exists("/a/2.json"))
}

func TestApplyRename(t *testing.T) {
	parent := content.NewTree()
	child, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertText, Path: "/a.txt", Text: "hi"},
	})
	require.NoError(t, err)

	child2, _, err := content.Apply(child, 3, []content.Change{
		{Type: content.ChangeRename, Path: "/a.txt", NewPath: "/b.txt"},
	})
	require.NoError(t, err)
	assert.False(t, child2.Exists("/a.txt"))
	entry, ok := child2.Get("/b.txt")
	require.True(t, ok)
	assert.Equal(t, "hi\n", string(entry.Content))
}

func TestApplyRenameToExistingConflicts(t *testing.T) {
	parent := content.NewTree()
	child, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertText, Path: "/a.txt", Text: "hi"},
		{Type: content.ChangeUpsertText, Path: "/b.txt", Text: "there"},
	})
	require.NoError(t, err)

	_, _, err = content.Apply(child, 3, []content.Change{
		{Type: content.ChangeRename, Path: "/a.txt", NewPath: "/b.txt"},
	})
	require.Error(t, err)
	assert.True(t, dogmaerr.Is(err, dogmaerr.KindChangeConflict))
}

func TestApplyJSONPatch(t *testing.T) {
	parent := content.NewTree()
	child, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertJSON, Path: "/a.json", JSON: []byte(`{"x":1}`)},
	})
	require.NoError(t, err)

	child2, _, err := content.Apply(child, 3, []content.Change{
		{
			Type: content.ChangeJSONPatch,
			Path: "/a.json",
			Patch: []content.JSONPatchOp{
				{Op: "test", Pointer: "/x", Value: []byte("1")},
				{Op: "replace", Pointer: "/x", Value: []byte("2")},
			},
		},
	})
	require.NoError(t, err)

	entry, _ := child2.Get("/a.json")
	assert.JSONEq(t, `{"x":2}`, string(entry.Content))
}

func TestApplyJSONPatchConflict(t *testing.T) {
	parent := content.NewTree()
	child, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertJSON, Path: "/a.json", JSON: []byte(`{"x":1}`)},
	})
	require.NoError(t, err)

	_, _, err = content.Apply(child, 3, []content.Change{
		{
			Type: content.ChangeJSONPatch,
			Path: "/a.json",
			Patch: []content.JSONPatchOp{
				{Op: "test", Pointer: "/x", Value: []byte("99")},
			},
		},
	})
	require.Error(t, err)
	assert.True(t, dogmaerr.Is(err, dogmaerr.KindJSONPatchConflict))
}

func TestApplyTextPatch(t *testing.T) {
	parent := content.NewTree()
	child, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertText, Path: "/a.txt", Text: "hello world"},
	})
	require.NoError(t, err)

	patch := content.MakeTextPatch("hello world\n", "hello there\n")

	child2, _, err := content.Apply(child, 3, []content.Change{
		{
			Type:     content.ChangeTextPatch,
			Path:     "/a.txt",
			Expected: "hello world\n",
			Unified:  patch,
		},
	})
	require.NoError(t, err)

	entry, _ := child2.Get("/a.txt")
	assert.Equal(t, "hello there\n", string(entry.Content))
}

func TestApplyTextPatchConflict(t *testing.T) {
	parent := content.NewTree()
	child, _, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertText, Path: "/a.txt", Text: "hello world"},
	})
	require.NoError(t, err)

	_, _, err = content.Apply(child, 3, []content.Change{
		{
			Type:     content.ChangeTextPatch,
			Path:     "/a.txt",
			Expected: "something else\n",
			Unified:  content.MakeTextPatch("something else\n", "other\n"),
		},
	})
	require.Error(t, err)
	assert.True(t, dogmaerr.Is(err, dogmaerr.KindTextPatchConflict))
}

func TestApplyDiffReplaysWithoutReresolving(t *testing.T) {
	parent := content.NewTree()

	child, diff, err := content.Apply(parent, 2, []content.Change{
		{Type: content.ChangeUpsertJSON, Path: "/a.json", JSON: []byte(`{"x":1}`)},
	})
	require.NoError(t, err)

	replayed, err := content.ApplyDiff(parent, 2, diff)
	require.NoError(t, err)

	entry1, _ := child.Get("/a.json")
	entry2, _ := replayed.Get("/a.json")
	assert.Equal(t, entry1.Content, entry2.Content)
}

func TestEntryCloneIsDeep(t *testing.T) {
	e := content.Entry{Path: "/a.json", Content: []byte(`{"x":1}`)}
	clone := e.Clone()
	clone.Content[0] = '!'

	assert.NotEqual(t, e.Content[0], clone.Content[0])
}
