package content

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/pretty"
)

// SanitizeText implements the TEXT canonicalization rule of spec.md §3:
// strip every "\r" and ensure the result ends with exactly one "\n".
func SanitizeText(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.TrimRight(s, "\n")

	return s + "\n"
}

// CompactJSON validates raw as JSON and returns it in a stable, ugly
// (whitespace-free) encoding that preserves the original key order —
// it is the form stored on disk, distinct from the canonical form used
// only for structural-equality comparisons.
func CompactJSON(raw []byte) ([]byte, error) {
	if !json.Valid(raw) {
		return nil, &json.SyntaxError{}
	}

	return pretty.Ugly(raw), nil
}

// canonicalJSON decodes raw into Go values and re-encodes it with
// encoding/json, which sorts object keys alphabetically. Two JSON
// documents that are structurally equal modulo key order therefore
// produce byte-identical output, which is exactly the equality spec.md
// §4.1 step 4 asks for when deciding whether an UpsertJson is redundant.
//
// This is the one place in the package that falls back to the standard
// library instead of a pack dependency: no library retrieved for this
// module performs key-order-independent structural JSON comparison, and
// building canonical output is exactly what encoding/json's map
// marshaling already guarantees.
func canonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

// JSONStructurallyEqual reports whether a and b parse to the same JSON
// value, ignoring object key order.
func JSONStructurallyEqual(a, b []byte) (bool, error) {
	ca, err := canonicalJSON(a)
	if err != nil {
		return false, err
	}

	cb, err := canonicalJSON(b)
	if err != nil {
		return false, err
	}

	return bytes.Equal(ca, cb), nil
}
