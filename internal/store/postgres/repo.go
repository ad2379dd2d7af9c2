package postgres

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/go-dogma/dogma/internal/content"
	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/pattern"
)

// RepositoryEngine is one repository's materialized-tree view atop the
// append-only commits table: the C1 Repository Store's in-process half
// of the "write-ahead log + snapshot" strategy spec.md §4.1 allows.
//
// Every commit row persists the effective UPSERT-mode diff, so replay
// never needs to re-run JSON-patch or text-patch resolution (see
// content.ApplyDiff).
type RepositoryEngine struct {
	store   *Store
	Project string
	Name    string

	mu      sync.RWMutex
	commits []CommitRow // ascending by revision, index 0 == revision 1
	cache   *lru.Cache[int32, *content.Tree]
	closed  error
}

// OpenRepositoryEngine loads the full commit history of (project, name)
// and primes a content cache of the given size.
func OpenRepositoryEngine(ctx context.Context, store *Store, project, name string, cacheSize int) (*RepositoryEngine, error) {
	commits, err := store.LoadCommits(ctx, project, name)
	if err != nil {
		return nil, err
	}

	if cacheSize <= 0 {
		cacheSize = 64
	}

	cache, err := lru.New[int32, *content.Tree](cacheSize)
	if err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "create content cache for %s/%s", project, name)
	}

	e := &RepositoryEngine{store: store, Project: project, Name: name, commits: commits, cache: cache}
	e.cache.Add(0, content.NewTree())

	return e, nil
}

// Head returns the current head revision.
func (e *RepositoryEngine) Head() content.Revision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return content.Revision(len(e.commits))
}

// Close marks the engine as closed; every subsequent operation fails
// with a StorageFault closed-repository error, per spec.md §4.1.
func (e *RepositoryEngine) Close(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed == nil {
		if cause == nil {
			cause = fmt.Errorf("repository closed")
		}

		e.closed = cause
	}
}

func (e *RepositoryEngine) checkOpen() error {
	if e.closed != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, e.closed, "repository %s/%s is closed", e.Project, e.Name)
	}

	return nil
}

// Normalize resolves rev against the current head.
func (e *RepositoryEngine) Normalize(rev content.Revision) (content.Revision, error) {
	return normalizeRev(rev, e.Head())
}

// normalizeRev wraps content.Revision.Normalize's plain error in the
// RevisionNotFound kind so callers outside this package get a
// classifiable error.
func normalizeRev(rev, head content.Revision) (content.Revision, error) {
	abs, err := rev.Normalize(head)
	if err != nil {
		return 0, dogmaerr.RevisionNotFound(int32(rev))
	}

	return abs, nil
}

// treeAt returns the materialized tree at rev, replaying from the
// nearest cached ancestor.
func (e *RepositoryEngine) treeAt(rev content.Revision) (*content.Tree, error) {
	if t, ok := e.cache.Get(int32(rev)); ok {
		return t, nil
	}

	base := int32(rev) - 1
	for base > 0 {
		if t, ok := e.cache.Get(base); ok {
			return e.replayFrom(base, t, rev)
		}

		base--
	}

	t, ok := e.cache.Get(0)
	if !ok {
		t = content.NewTree()
	}

	return e.replayFrom(0, t, rev)
}

func (e *RepositoryEngine) replayFrom(from int32, tree *content.Tree, to content.Revision) (*content.Tree, error) {
	cur := tree

	for i := from; i < int32(to); i++ {
		row := e.commits[i]

		diff, err := decodeChanges(row.Diff)
		if err != nil {
			return nil, err
		}

		diffMap := make(map[string]content.Change, len(diff))
		for _, ch := range diff {
			diffMap[ch.Path] = ch
		}

		next, err := content.ApplyDiff(cur, content.Revision(row.Revision), diffMap)
		if err != nil {
			return nil, err
		}

		cur = next
		e.cache.Add(row.Revision, cur)
	}

	return cur, nil
}

// Commit applies changes atop the tree at baseRevision and, if they are
// not redundant, appends the resulting commit to storage. It implements
// the full algorithm of spec.md §4.1.
func (e *RepositoryEngine) Commit(
	ctx context.Context,
	baseRevision content.Revision,
	author, authorEmail, summary, detail, markup string,
	timestampMillis int64,
	changes []content.Change,
) (content.Revision, map[string]content.Change, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkOpen(); err != nil {
		return 0, nil, err
	}

	head := content.Revision(len(e.commits))

	base, err := normalizeRev(baseRevision, head)
	if err != nil {
		return 0, nil, err
	}

	if base != head {
		return 0, nil, dogmaerr.New(dogmaerr.KindChangeConflict, "base revision %d is not the head revision %d", base, head)
	}

	parent, err := e.treeAt(base)
	if err != nil {
		return 0, nil, err
	}

	nextRev := head + 1

	child, diff, err := content.Apply(parent, nextRev, changes)
	if err != nil {
		return 0, nil, err
	}

	diffJSON, err := encodeChangesMap(diff)
	if err != nil {
		return 0, nil, err
	}

	row := CommitRow{
		Project:         e.Project,
		Repository:      e.Name,
		Revision:        int32(nextRev),
		AuthorName:      author,
		AuthorEmail:     authorEmail,
		TimestampMillis: timestampMillis,
		Summary:         summary,
		Detail:          detail,
		Markup:          markup,
		Diff:            diffJSON,
	}

	if err := e.store.AppendCommit(ctx, row); err != nil {
		return 0, nil, err
	}

	e.commits = append(e.commits, row)
	e.cache.Add(int32(nextRev), child)

	return nextRev, diff, nil
}

// ApplyDiffAt appends resultDiff as the commit at resultRevision without
// re-deriving it: this is the follower half of replication replay
// (spec.md §4.6), where a PushAsIs command carries the diff a leader
// already resolved and JSON-patch/text-patch conflicts must never be
// re-evaluated. baseRevision must equal the current head; resultRevision
// must be exactly head+1.
func (e *RepositoryEngine) ApplyDiffAt(
	baseRevision, resultRevision content.Revision,
	resultDiff map[string]content.Change,
) (*content.Tree, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	head := content.Revision(len(e.commits))

	base, err := normalizeRev(baseRevision, head)
	if err != nil {
		return nil, err
	}

	if base != head {
		return nil, dogmaerr.New(dogmaerr.KindChangeConflict, "base revision %d is not the head revision %d", base, head)
	}

	if resultRevision != head+1 {
		return nil, dogmaerr.New(dogmaerr.KindChangeConflict, "result revision %d does not follow head revision %d", resultRevision, head)
	}

	parent, err := e.treeAt(base)
	if err != nil {
		return nil, err
	}

	child, err := content.ApplyDiff(parent, resultRevision, resultDiff)
	if err != nil {
		return nil, err
	}

	diffJSON, err := encodeChangesMap(resultDiff)
	if err != nil {
		return nil, err
	}

	row := CommitRow{
		Project:    e.Project,
		Repository: e.Name,
		Revision:   int32(resultRevision),
		Diff:       diffJSON,
	}

	if err := e.store.AppendCommit(context.Background(), row); err != nil {
		return nil, err
	}

	e.commits = append(e.commits, row)
	e.cache.Add(int32(resultRevision), child)

	return child, nil
}

// Find returns every entry matching pattern at rev, synthesizing
// directory entries for prefixes with at least one matching file.
func (e *RepositoryEngine) Find(rev content.Revision, rawPattern string) (map[string]content.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	abs, err := normalizeRev(rev, content.Revision(len(e.commits)))
	if err != nil {
		return nil, err
	}

	tree, err := e.treeAt(abs)
	if err != nil {
		return nil, err
	}

	p := pattern.Compile(rawPattern)
	out := make(map[string]content.Entry)
	dirs := make(map[string]bool)

	for path, entry := range tree.Snapshot() {
		if !p.Match(path) {
			continue
		}

		out[path] = entry

		for _, d := range content.ParentDirs(path) {
			dirs[d] = true
		}
	}

	for _, d := range sortedDirs(dirs) {
		if _, exists := out[d]; !exists {
			out[d] = content.Entry{Revision: abs, Path: d, Type: content.EntryDirectory}
		}
	}

	return out, nil
}

func sortedDirs(dirs map[string]bool) []string {
	out := make([]string, 0, len(dirs))
	for d := range dirs {
		out = append(out, d)
	}

	sort.Strings(out)

	return out
}

// DiffMode selects diff's result shape, per spec.md §4.1's "diff(from,
// to, pattern | query) ... supports two result modes".
type DiffMode int

const (
	// DiffUpsert emits full-replacement UPSERT Changes.
	DiffUpsert DiffMode = iota
	// DiffPatch emits JsonPatch/TextPatch Changes for paths present on
	// both sides with the same type (a JSON entry gets a whole-document
	// test+replace patch), falling back to UPSERT for new paths (there is
	// nothing to patch against).
	DiffPatch
)

// Diff computes the set of changes between two revisions restricted to
// pattern, in UPSERT mode (full replacement values). Used internally by
// the watch manager to detect whether a subscription's pattern already
// matches a pending change.
func (e *RepositoryEngine) Diff(from, to content.Revision, rawPattern string) (map[string]content.Change, error) {
	return e.diff(from, to, rawPattern, DiffUpsert)
}

// DiffPatch is Diff's PATCH-mode counterpart (spec.md §4.1, §6's
// getDiff/getDiffs): changed paths present before and after are reported
// as a JsonPatch (JSON entries: test the old document, then replace it
// whole) or a TextPatch (TEXT entries) that reproduces the change,
// matching §8 scenario 2.
func (e *RepositoryEngine) DiffPatch(from, to content.Revision, rawPattern string) (map[string]content.Change, error) {
	return e.diff(from, to, rawPattern, DiffPatch)
}

func (e *RepositoryEngine) diff(from, to content.Revision, rawPattern string, mode DiffMode) (map[string]content.Change, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	head := content.Revision(len(e.commits))

	fromAbs, err := normalizeRev(from, head)
	if err != nil {
		return nil, err
	}

	toAbs, err := normalizeRev(to, head)
	if err != nil {
		return nil, err
	}

	fromTree, err := e.treeAt(fromAbs)
	if err != nil {
		return nil, err
	}

	toTree, err := e.treeAt(toAbs)
	if err != nil {
		return nil, err
	}

	diff := manualDiff(fromTree, toTree, mode)

	p := pattern.Compile(rawPattern)
	filtered := make(map[string]content.Change)

	for path, ch := range diff {
		if p.Match(path) {
			filtered[path] = ch
		}
	}

	return filtered, nil
}

// PreviewDiff implements spec.md §4.1's previewDiff(base, changes):
// applies changes to the tree at baseRevision in memory, without
// persisting, and returns the UPSERT-mode diff a successful Commit would
// produce. Conflicts (ChangeConflict, JsonPatchConflict,
// TextPatchConflict, RedundantChange) are rejected identically to
// Commit.
func (e *RepositoryEngine) PreviewDiff(baseRevision content.Revision, changes []content.Change) (map[string]content.Change, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	head := content.Revision(len(e.commits))

	base, err := normalizeRev(baseRevision, head)
	if err != nil {
		return nil, err
	}

	parent, err := e.treeAt(base)
	if err != nil {
		return nil, err
	}

	_, diff, err := content.Apply(parent, base+1, changes)
	if err != nil {
		return nil, err
	}

	return diff, nil
}

// History returns every commit with revision in [from, to] whose diff
// touches at least one path matching pattern. Revision 1 (the empty
// initial commit) is included only when pattern is the universal
// match-all pattern, per spec.md §4.1.
func (e *RepositoryEngine) History(from, to content.Revision, rawPattern string) ([]content.Commit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	head := content.Revision(len(e.commits))

	fromAbs, err := normalizeRev(from, head)
	if err != nil {
		return nil, err
	}

	toAbs, err := normalizeRev(to, head)
	if err != nil {
		return nil, err
	}

	lo, hi := fromAbs, toAbs
	if lo > hi {
		lo, hi = hi, lo
	}

	p := pattern.Compile(rawPattern)

	var out []content.Commit

	for rev := lo; rev <= hi; rev++ {
		if rev == content.InitialRevision {
			if p.MatchesAll() {
				out = append(out, content.Commit{Revision: content.InitialRevision})
			}

			continue
		}

		row := e.commits[int32(rev)-1]

		diff, err := decodeChanges(row.Diff)
		if err != nil {
			return nil, err
		}

		matched := false

		for _, ch := range diff {
			if p.Match(ch.Path) {
				matched = true

				break
			}
		}

		if !matched {
			continue
		}

		out = append(out, content.Commit{
			Revision: rev,
			Author:   row.AuthorName,
			Summary:  row.Summary,
			Detail:   row.Detail,
			Markup:   row.Markup,
			Changes:  diff,
		})
	}

	return out, nil
}

func encodeChangesMap(diff map[string]content.Change) ([]byte, error) {
	changes := make([]content.Change, 0, len(diff))
	for _, ch := range diff {
		changes = append(changes, ch)
	}

	return encodeChanges(changes)
}

// manualDiff computes the diff between two materialized trees directly,
// for Diff()/DiffPatch() queries that are not tied to a commit.
func manualDiff(from, to *content.Tree, mode DiffMode) map[string]content.Change {
	diff := make(map[string]content.Change)

	toSnap := to.Snapshot()
	fromSnap := from.Snapshot()

	for path, newEntry := range toSnap {
		oldEntry, existed := fromSnap[path]

		if !existed || oldEntry.Type != newEntry.Type || string(oldEntry.Content) != string(newEntry.Content) {
			diff[path] = diffChange(path, mode, oldEntry, existed, newEntry)
		}
	}

	for path := range fromSnap {
		if _, stillPresent := toSnap[path]; !stillPresent {
			diff[path] = content.Change{Type: content.ChangeRemove, Path: path}
		}
	}

	return diff
}

// diffChange builds the Change that turns oldEntry into newEntry at
// path. In DiffPatch mode, a path that exists with the same type on both
// sides is expressed as a whole-document JsonPatch (JSON) or a TextPatch
// (TEXT) that reproduces the change; everything else (a newly-created path, or
// UPSERT mode) falls back to a full-replacement upsert, since there is
// no previous value to patch against.
func diffChange(path string, mode DiffMode, oldEntry content.Entry, existed bool, newEntry content.Entry) content.Change {
	if mode == DiffPatch && existed && oldEntry.Type == newEntry.Type {
		switch newEntry.Type {
		case content.EntryJSON:
			return content.Change{
				Type:  content.ChangeJSONPatch,
				Path:  path,
				Patch: content.NewWholeDocumentPatch(oldEntry.Content, newEntry.Content),
			}
		case content.EntryText:
			oldText, newText := string(oldEntry.Content), string(newEntry.Content)

			return content.Change{
				Type:     content.ChangeTextPatch,
				Path:     path,
				Expected: oldText,
				Unified:  content.MakeTextPatch(oldText, newText),
			}
		}
	}

	if newEntry.Type == content.EntryText {
		return content.Change{Type: content.ChangeUpsertText, Path: path, Text: string(newEntry.Content)}
	}

	return content.Change{Type: content.ChangeUpsertJSON, Path: path, JSON: newEntry.Content}
}
