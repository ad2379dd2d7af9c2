package content

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// pointerToGJSONPath converts an RFC-6901 JSON Pointer into the dotted
// path syntax gjson/sjson expect. The empty pointer addresses the whole
// document and is handled by callers before reaching here.
//
// A trailing "-" segment (RFC-6902 array-append) is translated to
// sjson's own "-1" append marker, so add/replace at ".../-" appends
// rather than being written through as a literal "-" object key.
func pointerToGJSONPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")

	segments := strings.Split(ptr, "/")
	for i, s := range segments {
		if _, ok := arrayIndex(s); ok && s == "-" {
			segments[i] = "-1"
			continue
		}

		s = strings.ReplaceAll(s, "~1", "/")
		s = strings.ReplaceAll(s, "~0", "~")
		// gjson treats '.' as a path separator and '*'/'?' as wildcards;
		// escape them so literal object keys round-trip.
		s = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(s)
		segments[i] = s
	}

	return strings.Join(segments, ".")
}

// getAtPointer reads the value addressed by ptr within doc. ok is false
// if the pointer does not resolve.
func getAtPointer(doc []byte, ptr string) (value []byte, ok bool) {
	if ptr == "" {
		return doc, true
	}

	res := gjson.GetBytes(doc, pointerToGJSONPath(ptr))
	if !res.Exists() {
		return nil, false
	}

	return []byte(res.Raw), true
}

// setAtPointer returns doc with the value at ptr replaced or created.
func setAtPointer(doc, value []byte, ptr string) ([]byte, error) {
	if ptr == "" {
		return value, nil
	}

	return sjson.SetRawBytes(doc, pointerToGJSONPath(ptr), value)
}

// deleteAtPointer returns doc with the value at ptr removed.
func deleteAtPointer(doc []byte, ptr string) ([]byte, error) {
	if ptr == "" {
		return []byte("{}"), nil
	}

	return sjson.DeleteBytes(doc, pointerToGJSONPath(ptr))
}

// arrayIndex parses a pointer segment as an array index. "-" (RFC-6902
// append) parses as (-1, true); pointerToGJSONPath uses this to detect
// and translate it to sjson's own append marker. Returned ok is false
// for non-numeric, non-"-" segments.
func arrayIndex(segment string) (int, bool) {
	if segment == "-" {
		return -1, true
	}

	n, err := strconv.Atoi(segment)
	if err != nil {
		return 0, false
	}

	return n, true
}
