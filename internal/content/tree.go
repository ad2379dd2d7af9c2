package content

import (
	"strings"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

// Tree is the materialized set of file entries at one revision.
// Directories are never stored; find() synthesizes them from file paths.
type Tree struct {
	entries map[string]Entry
}

// NewTree returns an empty tree, the content of InitialRevision.
func NewTree() *Tree {
	return &Tree{entries: make(map[string]Entry)}
}

// Clone returns a deep-enough copy for mutation without affecting t.
func (t *Tree) Clone() *Tree {
	cp := make(map[string]Entry, len(t.entries))
	for k, v := range t.entries {
		cp[k] = v
	}

	return &Tree{entries: cp}
}

// Get returns the file entry at path, if any. Directory lookups are
// handled by callers via Exists/Find, not Get.
func (t *Tree) Get(path string) (Entry, bool) {
	e, ok := t.entries[path]
	return e, ok
}

// Exists reports whether path names a file, or a directory that has at
// least one file beneath it.
func (t *Tree) Exists(path string) bool {
	if _, ok := t.entries[path]; ok {
		return true
	}

	if IsDirectoryPath(path) {
		for p := range t.entries {
			if strings.HasPrefix(p, path) {
				return true
			}
		}
	}

	return false
}

// Snapshot returns the underlying entries, keyed by path. The caller must
// not mutate the returned map.
func (t *Tree) Snapshot() map[string]Entry {
	return t.entries
}

// removePrefix deletes path if it is a file, or every file beneath it if
// it is a directory. Returns whether anything was removed.
func (t *Tree) removePrefix(path string) bool {
	if e, ok := t.entries[path]; ok {
		_ = e

		delete(t.entries, path)

		return true
	}

	if !IsDirectoryPath(path) {
		return false
	}

	removed := false

	for p := range t.entries {
		if strings.HasPrefix(p, path) {
			delete(t.entries, p)

			removed = true
		}
	}

	return removed
}

// Apply executes changes against parent in the order given, producing
// the child tree and the effective per-path diff (in UPSERT form: each
// changed path maps to the change that would, on its own, produce the
// new value from the old one). It implements spec.md §4.1 steps 2-4.
func Apply(parent *Tree, rev Revision, changes []Change) (*Tree, map[string]Change, error) {
	next := parent.Clone()

	for _, ch := range changes {
		if err := applyOne(next, rev, ch); err != nil {
			return nil, nil, err
		}
	}

	diff, err := diffUpsert(parent, next)
	if err != nil {
		return nil, nil, err
	}

	if len(diff) == 0 {
		return nil, nil, dogmaerr.RedundantChange()
	}

	return next, diff, nil
}

// ApplyDiff replays an already-computed UPSERT-mode diff (as returned by
// Apply) against parent, producing the same child tree without
// re-resolving JSON-patch or text-patch conflicts. This is how replicas
// replay a PushAsIs command deterministically (spec.md §4.5).
func ApplyDiff(parent *Tree, rev Revision, diff map[string]Change) (*Tree, error) {
	next := parent.Clone()

	for _, ch := range diff {
		if err := applyOne(next, rev, ch); err != nil {
			return nil, err
		}
	}

	return next, nil
}

func applyOne(t *Tree, rev Revision, ch Change) error {
	switch ch.Type {
	case ChangeUpsertJSON:
		if err := ValidatePath(ch.Path, false); err != nil {
			return dogmaerr.ChangeConflict("%v", err)
		}

		compact, err := CompactJSON(ch.JSON)
		if err != nil {
			return dogmaerr.ChangeConflict("invalid JSON content at %q: %v", ch.Path, err)
		}

		t.entries[ch.Path] = Entry{Revision: rev, Path: ch.Path, Type: EntryJSON, Content: compact}

		return nil

	case ChangeUpsertText:
		if err := ValidatePath(ch.Path, false); err != nil {
			return dogmaerr.ChangeConflict("%v", err)
		}

		t.entries[ch.Path] = Entry{
			Revision: rev,
			Path:     ch.Path,
			Type:     EntryText,
			Content:  []byte(SanitizeText(ch.Text)),
		}

		return nil

	case ChangeRemove:
		if !t.removePrefix(ch.Path) {
			return dogmaerr.ChangeConflict("cannot remove non-existent path %q", ch.Path)
		}

		return nil

	case ChangeRename:
		if ch.Path == ch.NewPath {
			return dogmaerr.ChangeConflict("cannot rename %q to itself", ch.Path)
		}

		entry, ok := t.entries[ch.Path]
		if !ok {
			return dogmaerr.ChangeConflict("cannot rename non-existent path %q", ch.Path)
		}

		if _, exists := t.entries[ch.NewPath]; exists {
			return dogmaerr.ChangeConflict("rename destination %q already exists", ch.NewPath)
		}

		delete(t.entries, ch.Path)

		entry.Path = ch.NewPath
		entry.Revision = rev
		t.entries[ch.NewPath] = entry

		return nil

	case ChangeJSONPatch:
		entry, ok := t.entries[ch.Path]
		if !ok {
			return dogmaerr.EntryNotFound(int32(rev), ch.Path)
		}

		newContent, err := ApplyJSONPatch(ch.Path, entry.Content, ch.Patch)
		if err != nil {
			return err
		}

		entry.Content = newContent
		entry.Revision = rev
		t.entries[ch.Path] = entry

		return nil

	case ChangeTextPatch:
		entry, ok := t.entries[ch.Path]
		if !ok {
			return dogmaerr.EntryNotFound(int32(rev), ch.Path)
		}

		newText, err := ApplyTextPatch(ch.Path, string(entry.Content), ch)
		if err != nil {
			return err
		}

		entry.Content = []byte(newText)
		entry.Revision = rev
		t.entries[ch.Path] = entry

		return nil

	default:
		return dogmaerr.ChangeConflict("unknown change type for %q", ch.Path)
	}
}

// diffUpsert computes the set of paths whose content differs between
// parent and next, each expressed as the UPSERT-mode Change that would
// reproduce next's value from parent's.
func diffUpsert(parent, next *Tree) (map[string]Change, error) {
	diff := make(map[string]Change)

	for p, newEntry := range next.entries {
		oldEntry, existed := parent.entries[p]

		switch {
		case !existed:
			diff[p] = upsertChangeFor(newEntry)
		case newEntry.Type != oldEntry.Type:
			diff[p] = upsertChangeFor(newEntry)
		case newEntry.Type == EntryJSON:
			eq, err := JSONStructurallyEqual(oldEntry.Content, newEntry.Content)
			if err != nil {
				return nil, dogmaerr.Wrap(dogmaerr.KindChangeConflict, err, "invalid stored JSON at %q", p)
			}

			if !eq {
				diff[p] = upsertChangeFor(newEntry)
			}
		default:
			if string(oldEntry.Content) != string(newEntry.Content) {
				diff[p] = upsertChangeFor(newEntry)
			}
		}
	}

	for p := range parent.entries {
		if _, stillPresent := next.entries[p]; !stillPresent {
			diff[p] = Change{Type: ChangeRemove, Path: p}
		}
	}

	return diff, nil
}

func upsertChangeFor(e Entry) Change {
	if e.Type == EntryText {
		return Change{Type: ChangeUpsertText, Path: e.Path, Text: string(e.Content)}
	}

	return Change{Type: ChangeUpsertJSON, Path: e.Path, JSON: e.Content}
}
