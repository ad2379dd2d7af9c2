package content

import (
	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ApplyTextPatch applies a TextPatch change to the current text. It first
// asserts the sanitized current text equals change.Expected (the
// "expected-previous-text" precondition of spec.md §4.1), then applies
// the diffmatchpatch-encoded patch in change.Unified on top of it.
// Either failure is reported as dogmaerr.TextPatchConflict.
func ApplyTextPatch(path, current string, change Change) (string, error) {
	if SanitizeText(current) != SanitizeText(change.Expected) {
		return "", dogmaerr.TextPatchConflict(path)
	}

	dmp := diffmatchpatch.New()

	patches, err := dmp.PatchFromText(change.Unified)
	if err != nil {
		return "", dogmaerr.Wrap(dogmaerr.KindTextPatchConflict, err, "malformed patch at %q", path)
	}

	applied, results := dmp.PatchApply(patches, current)

	for _, ok := range results {
		if !ok {
			return "", dogmaerr.TextPatchConflict(path)
		}
	}

	return SanitizeText(applied), nil
}

// MakeTextPatch computes the diffmatchpatch patch text that transforms
// from into to, suitable for Change.Unified. Exposed for callers (and
// tests) constructing TextPatch changes.
func MakeTextPatch(from, to string) string {
	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(from, to, false)
	patches := dmp.PatchMake(from, diffs)

	return dmp.PatchToText(patches)
}
