// Package watch implements the C3 Commit Watchers of spec.md §4.3: a
// concurrent map of pending waiters keyed by (repository, path pattern),
// woken on the next commit whose changed paths match.
package watch

import (
	"sync"

	"github.com/go-dogma/dogma/internal/content"
	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/pattern"
)

// Result is delivered to a waiter exactly once: either the revision that
// satisfied it, or a terminal error (shutdown, repository removal).
type Result struct {
	Revision content.Revision
	Err      error
}

// Waiter is one pending subscription.
type Waiter struct {
	id      uint64
	pattern string
	ch      chan Result
}

// C returns the channel the waiter's result arrives on.
func (w *Waiter) C() <-chan Result {
	return w.ch
}

func (w *Waiter) complete(res Result) {
	select {
	case w.ch <- res:
	default:
		// Buffered 1; a second completion attempt is a no-op, preserving
		// at-most-one-completion.
	}
}

// RepoWatchers is the waiter set for a single repository.
type RepoWatchers struct {
	mu      sync.Mutex
	byID    map[uint64]*Waiter
	byPat   map[string]map[uint64]struct{}
	nextID  uint64
	closed  error
}

// NewRepoWatchers constructs an empty waiter set.
func NewRepoWatchers() *RepoWatchers {
	return &RepoWatchers{
		byID:  make(map[uint64]*Waiter),
		byPat: make(map[string]map[uint64]struct{}),
	}
}

// Register adds a waiter for rawPattern. The caller must have already
// determined (via diff against the current head) that nothing is
// immediately satisfiable, per spec.md §4.3's registration algorithm.
func (r *RepoWatchers) Register(rawPattern string) (*Waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed != nil {
		return nil, r.closed
	}

	r.nextID++

	w := &Waiter{id: r.nextID, pattern: rawPattern, ch: make(chan Result, 1)}
	r.byID[w.id] = w

	set, ok := r.byPat[rawPattern]
	if !ok {
		set = make(map[uint64]struct{})
		r.byPat[rawPattern] = set
	}

	set[w.id] = struct{}{}

	return w, nil
}

// Cancel removes w from the registry without completing it. If w was the
// last waiter for its pattern, the pattern entry is removed too.
func (r *RepoWatchers) Cancel(w *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(w)
}

func (r *RepoWatchers) removeLocked(w *Waiter) {
	delete(r.byID, w.id)

	if set, ok := r.byPat[w.pattern]; ok {
		delete(set, w.id)

		if len(set) == 0 {
			delete(r.byPat, w.pattern)
		}
	}
}

// Notify completes every waiter whose pattern matches at least one path
// in changedPaths with newRev, and removes them from the registry.
func (r *RepoWatchers) Notify(newRev content.Revision, changedPaths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for rawPattern, ids := range r.byPat {
		p := pattern.Compile(rawPattern)

		matched := false

		for _, path := range changedPaths {
			if p.Match(path) {
				matched = true

				break
			}
		}

		if !matched {
			continue
		}

		for id := range ids {
			w := r.byID[id]
			w.complete(Result{Revision: newRev})
			delete(r.byID, id)
		}

		delete(r.byPat, rawPattern)
	}
}

// Shutdown completes every pending waiter with err and clears the
// registry; subsequent Register calls fail with err.
func (r *RepoWatchers) Shutdown(err error) {
	if err == nil {
		err = dogmaerr.ShuttingDown()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.byID {
		w.complete(Result{Err: err})
	}

	r.byID = make(map[uint64]*Waiter)
	r.byPat = make(map[string]map[uint64]struct{})
	r.closed = err
}
