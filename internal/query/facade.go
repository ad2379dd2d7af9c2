// Package query implements the C4 Query/Watch Facade of spec.md §4.4:
// translating a client request into a C1 content read or a C3 long-poll.
package query

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-dogma/dogma/internal/content"
	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/query/jsonpath"
	"github.com/go-dogma/dogma/internal/store/postgres"
	"github.com/go-dogma/dogma/internal/watch"
)

// QueryKind tags the variant carried by a Query.
type QueryKind int

const (
	// QueryPath is an exact-path lookup.
	QueryPath QueryKind = iota
	// QueryJSONPath evaluates Expression against the JSON entry at Path.
	QueryJSONPath
	// QueryText asserts the entry at Path is a TEXT entry and returns it
	// verbatim (a "text-identity" query, per spec.md §4.1).
	QueryText
)

// Query is a tagged variant over a single path, as accepted by get/watch.
type Query struct {
	Kind       QueryKind
	Path       string
	Expression string // JSON-path expression, QueryJSONPath only
}

// Facade routes client requests to a repository engine and its watch
// manager.
type Facade struct {
	Watches *watch.Manager
}

// New constructs a Facade bound to a watch Manager.
func New(watches *watch.Manager) *Facade {
	return &Facade{Watches: watches}
}

// GetFile implements getFile(repo, rev, query): normalize, then read.
func (f *Facade) GetFile(engine *postgres.RepositoryEngine, rev content.Revision, q Query) (content.Entry, []byte, error) {
	abs, err := engine.Normalize(rev)
	if err != nil {
		return content.Entry{}, nil, err
	}

	entries, err := engine.Find(abs, q.Path)
	if err != nil {
		return content.Entry{}, nil, err
	}

	entry, ok := entries[q.Path]
	if !ok {
		return content.Entry{}, nil, dogmaerr.EntryNotFound(int32(abs), q.Path)
	}

	switch q.Kind {
	case QueryPath:
		return entry, entry.Content, nil

	case QueryText:
		if entry.Type != content.EntryText {
			return content.Entry{}, nil, dogmaerr.New(dogmaerr.KindQueryExecution, "entry %q is not TEXT", q.Path)
		}

		return entry, entry.Content, nil

	case QueryJSONPath:
		if entry.Type != content.EntryJSON {
			return content.Entry{}, nil, dogmaerr.New(dogmaerr.KindQueryExecution, "entry %q is not JSON", q.Path)
		}

		result, err := jsonpath.Eval(entry.Content, q.Expression)
		if err != nil {
			return content.Entry{}, nil, err
		}

		return entry, unwrapSingle(result), nil

	default:
		return content.Entry{}, nil, dogmaerr.New(dogmaerr.KindQueryExecution, "unknown query kind")
	}
}

// unwrapSingle reduces a one-element JSON array result down to its sole
// element, per spec.md §8 (a JsonPath query that matches exactly one
// node returns that node directly, not a 1-array); every other result
// size is returned as the array jsonpath.Eval produced.
func unwrapSingle(arr []byte) []byte {
	var vals []json.RawMessage
	if err := json.Unmarshal(arr, &vals); err != nil || len(vals) != 1 {
		return arr
	}

	return []byte(vals[0])
}

// WatchFile implements watchFile(repo, rev, query, timeoutMs): subscribe
// via C3, race against timeout, then re-evaluate the query (query-watch
// semantics of spec.md §4.3).
func (f *Facade) WatchFile(
	ctx context.Context,
	repoKey string,
	engine *postgres.RepositoryEngine,
	rev content.Revision,
	q Query,
	timeout time.Duration,
	errorOnEntryNotFound bool,
) (content.Entry, []byte, bool, error) {
	abs, err := engine.Normalize(rev)
	if err != nil {
		return content.Entry{}, nil, false, err
	}

	_, prevContent, err := f.GetFile(engine, abs, q)
	if err != nil && !dogmaerr.Is(err, dogmaerr.KindEntryNotFound) {
		return content.Entry{}, nil, false, err
	}

	if err != nil && errorOnEntryNotFound {
		return content.Entry{}, nil, false, err
	}

	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return content.Entry{}, nil, false, nil
		}

		w, err := f.Watches.Subscribe(repoKey, engine, q.Path, abs)
		if err != nil {
			return content.Entry{}, nil, false, err
		}

		newRev, ok, err := watch.Await(ctx, f.Watches, repoKey, w, remaining)
		if err != nil {
			return content.Entry{}, nil, false, err
		}

		if !ok {
			return content.Entry{}, nil, false, nil
		}

		entry, newContent, err := f.GetFile(engine, newRev, q)
		if err != nil {
			if dogmaerr.Is(err, dogmaerr.KindEntryNotFound) && !errorOnEntryNotFound {
				abs = newRev
				continue
			}

			return content.Entry{}, nil, false, err
		}

		if string(newContent) == string(prevContent) {
			// Content unchanged (e.g. remove+recreate with identical
			// value): re-subscribe instead of waking the caller.
			abs = newRev
			prevContent = newContent

			continue
		}

		return entry, newContent, true, nil
	}
}

// GetDiff implements getDiff(repo, from, to, query): the PATCH-mode
// change at a single path, per spec.md §8 scenario 2. query's Path
// selects the entry; QueryJSONPath/QueryText's Expression is ignored
// since a diff always reports the whole entry, not a filtered subview.
func (f *Facade) GetDiff(engine *postgres.RepositoryEngine, from, to content.Revision, q Query) (content.Change, error) {
	diffs, err := engine.DiffPatch(from, to, q.Path)
	if err != nil {
		return content.Change{}, err
	}

	ch, ok := diffs[q.Path]
	if !ok {
		return content.Change{}, dogmaerr.EntryNotFound(int32(to), q.Path)
	}

	return ch, nil
}

// GetDiffs implements getDiffs(repo, from, to, pattern): every PATCH-mode
// change between the two revisions whose path matches pattern, ordered
// by path for a deterministic response.
func (f *Facade) GetDiffs(engine *postgres.RepositoryEngine, from, to content.Revision, rawPattern string) ([]content.Change, error) {
	diffs, err := engine.DiffPatch(from, to, rawPattern)
	if err != nil {
		return nil, err
	}

	return sortedChanges(diffs), nil
}

// GetPreviewDiffs implements getPreviewDiffs(repo, baseRev, changes):
// the UPSERT-mode diff that committing changes against baseRevision
// would produce, without persisting anything. Conflicts are rejected
// identically to a real commit.
func (f *Facade) GetPreviewDiffs(engine *postgres.RepositoryEngine, baseRevision content.Revision, changes []content.Change) ([]content.Change, error) {
	diffs, err := engine.PreviewDiff(baseRevision, changes)
	if err != nil {
		return nil, err
	}

	return sortedChanges(diffs), nil
}

// sortedChanges flattens a path->Change map into a path-ordered slice,
// so RPC responses are deterministic regardless of map iteration order.
func sortedChanges(m map[string]content.Change) []content.Change {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	out := make([]content.Change, 0, len(paths))
	for _, p := range paths {
		out = append(out, m[p])
	}

	return out
}

// WatchRepository implements watchRepository(repo, rev, pattern,
// timeoutMs): analogous to WatchFile but reports only the new revision.
func (f *Facade) WatchRepository(
	ctx context.Context,
	repoKey string,
	engine *postgres.RepositoryEngine,
	rev content.Revision,
	rawPattern string,
	timeout time.Duration,
) (content.Revision, bool, error) {
	abs, err := engine.Normalize(rev)
	if err != nil {
		return 0, false, err
	}

	w, err := f.Watches.Subscribe(repoKey, engine, rawPattern, abs)
	if err != nil {
		return 0, false, err
	}

	return watch.Await(ctx, f.Watches, repoKey, w, timeout)
}
