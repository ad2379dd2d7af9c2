package statusfile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/statusfile"
)

func TestLoadMissingReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()

	s, err := statusfile.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, statusfile.Status{}, s)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()

	want := statusfile.Status{Writable: true, Replicating: true, LastAppliedIndex: 42}
	require.NoError(t, statusfile.Save(dir, want))

	got, err := statusfile.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveOverwritesPreviousStatus(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, statusfile.Save(dir, statusfile.Status{Writable: true}))
	require.NoError(t, statusfile.Save(dir, statusfile.Status{Writable: false, LastAppliedIndex: 7}))

	got, err := statusfile.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, statusfile.Status{Writable: false, LastAppliedIndex: 7}, got)
}

func TestPathJoinsDataDir(t *testing.T) {
	assert.Equal(t, "/var/dogma/_server_status.json", statusfile.Path("/var/dogma"))
}
