package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

func TestNewDefaultsLockTimeoutAndStartsReadOnly(t *testing.T) {
	e := New(nil, nil, nil, nil)

	assert.Equal(t, 10*time.Second, e.LockTimeout)
	require.NotNil(t, e.Logger)
	assert.False(t, e.Writable())
}

func TestSetWritableTogglesWritable(t *testing.T) {
	e := New(nil, nil, nil, nil)

	e.SetWritable(true)
	assert.True(t, e.Writable())

	e.SetWritable(false)
	assert.False(t, e.Writable())
}

func TestApplyRejectsWhenNotWritable(t *testing.T) {
	e := New(nil, nil, nil, nil)

	_, err := e.Apply(context.Background(), Command{Type: CreateProject})

	require.Error(t, err)
	assert.True(t, dogmaerr.Is(err, dogmaerr.KindShuttingDown))
}

func TestApplyReturnsCachedResultWithoutDispatch(t *testing.T) {
	e := New(nil, nil, nil, nil)
	e.cacheResult("cmd-1", Output{Revision: 42})

	out, err := e.Apply(context.Background(), Command{ID: "cmd-1", Type: CreateProject})

	require.NoError(t, err)
	assert.EqualValues(t, 42, out.Revision)
}

func TestCachedResultMissesOnEmptyID(t *testing.T) {
	e := New(nil, nil, nil, nil)
	e.cacheResult("", Output{Revision: 1})

	_, ok := e.cachedResult("")
	assert.False(t, ok, "empty id must never be cached")
}
