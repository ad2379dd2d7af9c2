package content

// ChangeType tags the variant carried by a Change, per spec.md §3.
type ChangeType int

const (
	ChangeUpsertJSON ChangeType = iota
	ChangeUpsertText
	ChangeRemove
	ChangeRename
	ChangeJSONPatch
	ChangeTextPatch
)

func (t ChangeType) String() string {
	switch t {
	case ChangeUpsertJSON:
		return "UPSERT_JSON"
	case ChangeUpsertText:
		return "UPSERT_TEXT"
	case ChangeRemove:
		return "REMOVE"
	case ChangeRename:
		return "RENAME"
	case ChangeJSONPatch:
		return "JSON_PATCH"
	case ChangeTextPatch:
		return "TEXT_PATCH"
	default:
		return "UNKNOWN"
	}
}

// JSONPatchOp is one RFC-6902-shaped operation. Pointer uses JSON Pointer
// syntax ("/a/b/0"); the empty pointer "" addresses the whole document,
// which is how the two-value "expect/to" convenience in spec.md §8's
// example scenarios is represented internally (see NewWholeDocumentPatch).
type JSONPatchOp struct {
	Op      string // "add" | "remove" | "replace" | "test"
	Pointer string
	Value   []byte // raw JSON, nil for "remove"
}

// NewWholeDocumentPatch builds the two-operation form used throughout
// spec.md §8's examples: assert the document equals expect, then replace
// it with to.
func NewWholeDocumentPatch(expect, to []byte) []JSONPatchOp {
	return []JSONPatchOp{
		{Op: "test", Pointer: "", Value: expect},
		{Op: "replace", Pointer: "", Value: to},
	}
}

// Change is a tagged variant over a single path, per spec.md §3.
type Change struct {
	Type ChangeType
	Path string

	// UpsertJSON
	JSON []byte

	// UpsertText
	Text string

	// Rename
	NewPath string

	// JSONPatch
	Patch []JSONPatchOp

	// TextPatch: Expected is the previous text the change asserts is
	// present before applying; Unified is the diffmatchpatch-encoded
	// patch text (its PatchToText format, which is unified-diff shaped).
	Expected string
	Unified  string
}

// Commit is an immutable (revision, author, timestamp, ..., change-set)
// record, per spec.md §3.
type Commit struct {
	Revision  Revision
	Author    string
	TimestampMillis int64
	Summary   string
	Detail    string
	Markup    string
	Changes   []Change
}
