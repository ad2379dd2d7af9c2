// Package jsonpath implements the subset of JSON-path required by
// spec.md §4.4: recursive descent ("$.."), property access ("$.a.b"),
// wildcards ("$.*", "$[*]"), and a simple equality filter
// ("$[?(@.x == 'y')]"). No suitable JSONPath library is available, so
// this is hand-rolled atop encoding/json; results are always wrapped
// as a JSON array (spec.md §4.4).
package jsonpath

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

// token is one parsed path step.
type token struct {
	kind       tokenKind
	name       string // property name ("$.a" step)
	filterKey  string // "@.x" in a filter
	filterVal  string // the quoted literal to compare against
}

type tokenKind int

const (
	tokenProperty tokenKind = iota
	tokenRecursiveDescent
	tokenWildcard
	tokenFilter
)

// Eval evaluates expr against doc and returns the matches, always
// encoded as a JSON array (possibly empty), per spec.md §4.4.
func Eval(doc []byte, expr string) ([]byte, error) {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, dogmaerr.QueryExecution(err, "invalid JSON document")
	}

	tokens, err := parse(expr)
	if err != nil {
		return nil, err
	}

	results := []any{v}

	for _, tok := range tokens {
		var next []any

		for _, r := range results {
			next = append(next, applyToken(tok, r)...)
		}

		results = next
	}

	if results == nil {
		results = []any{}
	}

	out, err := json.Marshal(results)
	if err != nil {
		return nil, dogmaerr.QueryExecution(err, "encode JSON-path result")
	}

	return out, nil
}

// parse turns "$.a.b[*]..c[?(@.x == 'y')]"-shaped expressions into
// tokens. Only the subset named in spec.md §4.4 is supported.
func parse(expr string) ([]token, error) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "$")

	var tokens []token

	i := 0
	for i < len(expr) {
		switch {
		case strings.HasPrefix(expr[i:], ".."):
			i += 2

			name, n := readName(expr[i:])
			tokens = append(tokens, token{kind: tokenRecursiveDescent, name: name})
			i += n

		case expr[i] == '.':
			i++

			if i < len(expr) && expr[i] == '*' {
				tokens = append(tokens, token{kind: tokenWildcard})
				i++

				continue
			}

			name, n := readName(expr[i:])
			tokens = append(tokens, token{kind: tokenProperty, name: name})
			i += n

		case expr[i] == '[':
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return nil, dogmaerr.New(dogmaerr.KindQueryExecution, "unterminated '[' in JSON-path %q", expr)
			}

			inner := strings.TrimSpace(expr[i+1 : i+end])
			i += end + 1

			switch {
			case inner == "*":
				tokens = append(tokens, token{kind: tokenWildcard})
			case strings.HasPrefix(inner, "?("):
				key, val, err := parseFilter(inner)
				if err != nil {
					return nil, err
				}

				tokens = append(tokens, token{kind: tokenFilter, filterKey: key, filterVal: val})
			default:
				tokens = append(tokens, token{kind: tokenProperty, name: strings.Trim(inner, `'"`)})
			}

		default:
			return nil, dogmaerr.New(dogmaerr.KindQueryExecution, "unexpected character %q in JSON-path %q", string(expr[i]), expr)
		}
	}

	return tokens, nil
}

func readName(s string) (string, int) {
	i := 0
	for i < len(s) && s[i] != '.' && s[i] != '[' {
		i++
	}

	return s[:i], i
}

// parseFilter parses "?(@.x == 'y')" into ("x", "y").
func parseFilter(inner string) (string, string, error) {
	inner = strings.TrimPrefix(inner, "?(")
	inner = strings.TrimSuffix(inner, ")")

	parts := strings.SplitN(inner, "==", 2)
	if len(parts) != 2 {
		return "", "", dogmaerr.New(dogmaerr.KindQueryExecution, "unsupported JSON-path filter %q", inner)
	}

	key := strings.TrimSpace(parts[0])
	key = strings.TrimPrefix(key, "@.")

	val := strings.TrimSpace(parts[1])
	val = strings.Trim(val, `'"`)

	return key, val, nil
}

func applyToken(t token, v any) []any {
	switch t.kind {
	case tokenProperty:
		if m, ok := v.(map[string]any); ok {
			if child, ok := m[t.name]; ok {
				return []any{child}
			}
		}

		if idx, err := strconv.Atoi(t.name); err == nil {
			if arr, ok := v.([]any); ok && idx >= 0 && idx < len(arr) {
				return []any{arr[idx]}
			}
		}

		return nil

	case tokenWildcard:
		switch x := v.(type) {
		case map[string]any:
			out := make([]any, 0, len(x))
			for _, child := range x {
				out = append(out, child)
			}

			return out
		case []any:
			return append([]any{}, x...)
		}

		return nil

	case tokenRecursiveDescent:
		var out []any

		collectRecursive(v, &out)

		if t.name != "" {
			var named []any

			for _, node := range out {
				if m, ok := node.(map[string]any); ok {
					if child, ok := m[t.name]; ok {
						named = append(named, child)
					}
				}
			}

			return named
		}

		return out

	case tokenFilter:
		arr, ok := v.([]any)
		if !ok {
			return nil
		}

		var out []any

		for _, elem := range arr {
			m, ok := elem.(map[string]any)
			if !ok {
				continue
			}

			if fmtValue(m[t.filterKey]) == t.filterVal {
				out = append(out, elem)
			}
		}

		return out
	}

	return nil
}

// collectRecursive appends v and every descendant of v (objects and
// arrays) to out, implementing "$..".
func collectRecursive(v any, out *[]any) {
	*out = append(*out, v)

	switch x := v.(type) {
	case map[string]any:
		for _, child := range x {
			collectRecursive(child, out)
		}
	case []any:
		for _, child := range x {
			collectRecursive(child, out)
		}
	}
}

func fmtValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
