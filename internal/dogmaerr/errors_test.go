package dogmaerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

func TestErrorMessage(t *testing.T) {
	err := dogmaerr.New(dogmaerr.KindEntryNotFound, "entry %q missing", "/a.json")
	assert.Equal(t, `ENTRY_NOT_FOUND: entry "/a.json" missing`, err.Error())

	cause := errors.New("boom")
	wrapped := dogmaerr.Wrap(dogmaerr.KindStorageFault, cause, "write failed")
	assert.Contains(t, wrapped.Error(), "boom")
	assert.Contains(t, wrapped.Error(), "STORAGE_FAULT")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := dogmaerr.Wrap(dogmaerr.KindStorageFault, cause, "write failed")

	assert.Same(t, cause, errors.Unwrap(wrapped))
}

func TestIsSentinel(t *testing.T) {
	err := fmt.Errorf("context: %w", dogmaerr.EntryNotFound(3, "/a.json"))

	assert.True(t, errors.Is(err, dogmaerr.EntryNotFound(99, "/other")))
	assert.False(t, errors.Is(err, dogmaerr.RevisionNotFound(3)))
}

func TestClassify(t *testing.T) {
	kind, ok := dogmaerr.Classify(dogmaerr.RepositoryExists("proj", "repo"))
	require.True(t, ok)
	assert.Equal(t, dogmaerr.KindRepositoryExists, kind)

	_, ok = dogmaerr.Classify(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsHelper(t *testing.T) {
	err := dogmaerr.TooManyRequests("proj", "repo")

	assert.True(t, dogmaerr.Is(err, dogmaerr.KindTooManyRequests))
	assert.False(t, dogmaerr.Is(err, dogmaerr.KindShuttingDown))
	assert.False(t, dogmaerr.Is(errors.New("plain"), dogmaerr.KindShuttingDown))
}

func TestSentinelConstructors(t *testing.T) {
	cases := []struct {
		name string
		err  *dogmaerr.Error
		kind dogmaerr.Kind
	}{
		{"ProjectNotFound", dogmaerr.ProjectNotFound("p"), dogmaerr.KindProjectNotFound},
		{"ProjectExists", dogmaerr.ProjectExists("p"), dogmaerr.KindProjectExists},
		{"RepositoryNotFound", dogmaerr.RepositoryNotFound("p", "r"), dogmaerr.KindRepositoryNotFound},
		{"RepositoryExists", dogmaerr.RepositoryExists("p", "r"), dogmaerr.KindRepositoryExists},
		{"RevisionNotFound", dogmaerr.RevisionNotFound(1), dogmaerr.KindRevisionNotFound},
		{"EntryNotFound", dogmaerr.EntryNotFound(1, "/a"), dogmaerr.KindEntryNotFound},
		{"ChangeConflict", dogmaerr.ChangeConflict("x"), dogmaerr.KindChangeConflict},
		{"JSONPatchConflict", dogmaerr.JSONPatchConflict("/a"), dogmaerr.KindJSONPatchConflict},
		{"TextPatchConflict", dogmaerr.TextPatchConflict("/a"), dogmaerr.KindTextPatchConflict},
		{"RedundantChange", dogmaerr.RedundantChange(), dogmaerr.KindRedundantChange},
		{"TooManyRequests", dogmaerr.TooManyRequests("p", "r"), dogmaerr.KindTooManyRequests},
		{"Replication", dogmaerr.Replication("x"), dogmaerr.KindReplicationError},
		{"ShuttingDown", dogmaerr.ShuttingDown(), dogmaerr.KindShuttingDown},
		{"StorageFault", dogmaerr.StorageFault(nil, "x"), dogmaerr.KindStorageFault},
		{"QueryExecution", dogmaerr.QueryExecution(nil, "x"), dogmaerr.KindQueryExecution},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.err.Kind)
		})
	}
}
