// Package command implements the C5 Command Executor of spec.md §4.5:
// serializing every mutating command, applying it to C1/C2, and
// producing a result revision (or CommitResult for pushes).
package command

import (
	"github.com/go-dogma/dogma/internal/content"
	"github.com/go-dogma/dogma/internal/quota"
)

// Type tags the variant carried by a Command.
type Type int

const (
	CreateProject Type = iota
	RemoveProject
	UnremoveProject
	PurgeProject
	CreateRepository
	RemoveRepository
	UnremoveRepository
	PurgeRepository
	NormalizingPush
	PushAsIs
	CreateSession
	RemoveSession
	SetWriteQuota
)

// Command is a tagged variant over the full mutating-command taxonomy of
// spec.md §4.5. Every command carries an author and an optional
// timestamp (zero means "assign at apply time").
type Command struct {
	// ID, if set, is an idempotency key the executor uses to cache and
	// replay the Output of a command whose reply arrived late (e.g. after
	// a replication round-trip), per spec.md §4.5's "Outputs" note.
	ID string

	Type            Type
	Author          string
	TimestampMillis int64

	Project    string
	Repository string

	// NormalizingPush / PushAsIs
	BaseRevision content.Revision
	Summary      string
	Detail       string
	Markup       string
	Changes      []content.Change // NormalizingPush: changes to normalize and apply

	// PushAsIs: the already-normalized result a leader computed, replayed
	// verbatim by followers (never re-resolved for JSON-patch conflicts).
	ResultRevision content.Revision
	ResultDiff     map[string]content.Change

	// CreateSession / RemoveSession: opaque payload forwarded to an
	// external session store (spec.md §4.5 -- the core treats these as
	// pass-through commands).
	SessionID   string
	SessionData []byte

	// SetWriteQuota: nil Quota means unlimited.
	Quota *quota.Quota
}

// Output is what applying a Command produces: Void (zero value),
// Revision, or a full CommitResult, per spec.md §4.5's "Outputs".
type Output struct {
	Revision content.Revision
	Diff     map[string]content.Change
}
