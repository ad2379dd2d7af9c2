package watch

import (
	"context"
	"sync"
	"time"

	"github.com/go-dogma/dogma/internal/content"
	"github.com/go-dogma/dogma/internal/store/postgres"
)

// Engine is the subset of postgres.RepositoryEngine the watch Manager
// needs: the head revision and a diff, to decide whether a subscription
// resolves immediately.
type Engine interface {
	Head() content.Revision
	Diff(from, to content.Revision, pattern string) (map[string]content.Change, error)
}

var _ Engine = (*postgres.RepositoryEngine)(nil)

// Manager owns one RepoWatchers per repository key ("project/name").
type Manager struct {
	mu    sync.Mutex
	repos map[string]*RepoWatchers
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{repos: make(map[string]*RepoWatchers)}
}

func (m *Manager) watchersFor(repoKey string) *RepoWatchers {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.repos[repoKey]
	if !ok {
		w = NewRepoWatchers()
		m.repos[repoKey] = w
	}

	return w
}

// Subscribe implements spec.md §4.3's subscribe(repo, pattern,
// lastKnownRev): if the engine's head has already advanced past
// lastKnownRev with a matching change, the returned Waiter is
// pre-completed; otherwise it is registered to wake on the next matching
// commit.
func (m *Manager) Subscribe(repoKey string, engine Engine, rawPattern string, lastKnownRev content.Revision) (*Waiter, error) {
	watchers := m.watchersFor(repoKey)

	head := engine.Head()
	if head > lastKnownRev {
		diff, err := engine.Diff(lastKnownRev, head, rawPattern)
		if err != nil {
			return nil, err
		}

		if len(diff) > 0 {
			w := &Waiter{ch: make(chan Result, 1)}
			w.complete(Result{Revision: head})

			return w, nil
		}
	}

	return watchers.Register(rawPattern)
}

// Cancel removes a waiter previously returned by Subscribe.
func (m *Manager) Cancel(repoKey string, w *Waiter) {
	m.watchersFor(repoKey).Cancel(w)
}

// Notify is called by the Repository Store after a successful commit.
func (m *Manager) Notify(repoKey string, newRev content.Revision, changedPaths []string) {
	m.mu.Lock()
	watchers, ok := m.repos[repoKey]
	m.mu.Unlock()

	if ok {
		watchers.Notify(newRev, changedPaths)
	}
}

// Shutdown drains and clears the waiter set for one repository, e.g. on
// removal (spec.md §3's "removing a repository wakes all its watchers
// with a terminal signal").
func (m *Manager) Shutdown(repoKey string, err error) {
	m.mu.Lock()
	watchers, ok := m.repos[repoKey]
	delete(m.repos, repoKey)
	m.mu.Unlock()

	if ok {
		watchers.Shutdown(err)
	}
}

// ShutdownAll drains every repository's waiters, used on server shutdown.
func (m *Manager) ShutdownAll(err error) {
	m.mu.Lock()
	repos := m.repos
	m.repos = make(map[string]*RepoWatchers)
	m.mu.Unlock()

	for _, watchers := range repos {
		watchers.Shutdown(err)
	}
}

// Await blocks on w until it completes, ctx is cancelled, or timeout
// elapses, whichever comes first. On timeout it cancels w and returns
// (0, false, nil) -- the "no-change" sentinel of spec.md §4.4.
func Await(ctx context.Context, m *Manager, repoKey string, w *Waiter, timeout time.Duration) (content.Revision, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.C():
		if res.Err != nil {
			return 0, false, res.Err
		}

		return res.Revision, true, nil
	case <-timer.C:
		m.Cancel(repoKey, w)

		return 0, false, nil
	case <-ctx.Done():
		m.Cancel(repoKey, w)

		return 0, false, ctx.Err()
	}
}
