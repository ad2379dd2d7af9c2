package watch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/watch"
)

func TestRegisterAndNotify(t *testing.T) {
	r := watch.NewRepoWatchers()

	w, err := r.Register("/a/*.json")
	require.NoError(t, err)

	r.Notify(4, []string{"/a/b.json"})

	res := <-w.C()
	assert.Equal(t, int32(4), int32(res.Revision))
}

func TestCancelRemovesWaiter(t *testing.T) {
	r := watch.NewRepoWatchers()

	w, err := r.Register("/a/*.json")
	require.NoError(t, err)

	r.Cancel(w)
	r.Notify(4, []string{"/a/b.json"})

	select {
	case <-w.C():
		t.Fatal("cancelled waiter should not be completed")
	default:
	}
}

func TestRegisterAfterShutdownFails(t *testing.T) {
	r := watch.NewRepoWatchers()
	r.Shutdown(nil)

	_, err := r.Register("/a/*.json")
	assert.Error(t, err)
}

func TestNotifyCompletesOnlyOnce(t *testing.T) {
	r := watch.NewRepoWatchers()

	w, err := r.Register("/a/*.json")
	require.NoError(t, err)

	r.Notify(1, []string{"/a/b.json"})
	r.Notify(2, []string{"/a/b.json"})

	res := <-w.C()
	assert.Equal(t, int32(1), int32(res.Revision))

	select {
	case <-w.C():
		t.Fatal("waiter channel should only ever receive once")
	default:
	}
}
