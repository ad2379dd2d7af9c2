// Package content implements the versioned-tree data model of spec.md §3:
// revisions, paths, entries, changes and commits, plus the pure functions
// that apply a change set to a tree and compute diffs between trees. It
// has no knowledge of how a repository is persisted — internal/store
// wires this package to Postgres.
package content

import "fmt"

// Revision is the integer name of a commit. Absolute revisions are >= 1;
// values <= 0 are relative offsets from the head (-1 = head, -2 = one
// before head, and both 0 and negative values normalize against head per
// spec.md §9's resolution of normalizeRevision(0)).
type Revision int32

// InitialRevision is always present and denotes the empty initial commit
// of every repository.
const InitialRevision Revision = 1

// IsAbsolute reports whether r is already a resolved, positive revision.
func (r Revision) IsAbsolute() bool { return r >= 1 }

// Normalize resolves r against head. A pair of revisions that must be
// normalized together (e.g. a diff's from/to) should call Normalize with
// the same head value so they observe one consistent snapshot.
func (r Revision) Normalize(head Revision) (Revision, error) {
	if head < InitialRevision {
		return 0, fmt.Errorf("content: invalid head revision %d", head)
	}

	var abs Revision

	switch {
	case r >= InitialRevision:
		abs = r
	case r == 0:
		// normalizeRevision(0) is treated as -1 (head); see SPEC_FULL.md.
		abs = head
	default:
		// -1 => head, -2 => head-1, ...
		abs = head + r + 1
	}

	if abs < InitialRevision || abs > head {
		return 0, fmt.Errorf("content: revision out of range: %d (head=%d)", r, head)
	}

	return abs, nil
}
