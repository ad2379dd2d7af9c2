package content

import (
	"github.com/go-dogma/dogma/internal/dogmaerr"
)

// ApplyJSONPatch applies ops to doc in order and returns the resulting
// document. A "test" operation whose value does not structurally match
// the current value at its pointer fails with dogmaerr.JSONPatchConflict,
// per spec.md §4.1 step 3.
func ApplyJSONPatch(path string, doc []byte, ops []JSONPatchOp) ([]byte, error) {
	cur := doc

	for _, op := range ops {
		switch op.Op {
		case "test":
			existing, ok := getAtPointer(cur, op.Pointer)
			if !ok {
				return nil, dogmaerr.JSONPatchConflict(path)
			}

			eq, err := JSONStructurallyEqual(existing, op.Value)
			if err != nil {
				return nil, dogmaerr.Wrap(dogmaerr.KindJSONPatchConflict, err, "malformed test value at %q", path)
			}

			if !eq {
				return nil, dogmaerr.JSONPatchConflict(path)
			}
		case "add", "replace":
			next, err := setAtPointer(cur, op.Value, op.Pointer)
			if err != nil {
				return nil, dogmaerr.Wrap(dogmaerr.KindJSONPatchConflict, err, "failed to apply %s at %q", op.Op, path)
			}

			cur = next
		case "remove":
			next, err := deleteAtPointer(cur, op.Pointer)
			if err != nil {
				return nil, dogmaerr.Wrap(dogmaerr.KindJSONPatchConflict, err, "failed to remove at %q", path)
			}

			cur = next
		default:
			return nil, dogmaerr.New(dogmaerr.KindJSONPatchConflict, "unsupported JSON patch op %q at %q", op.Op, path)
		}
	}

	return CompactJSON(cur)
}
