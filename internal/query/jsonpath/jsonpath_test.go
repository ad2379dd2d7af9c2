package jsonpath_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/query/jsonpath"
)

func TestEvalPropertyAccess(t *testing.T) {
	doc := []byte(`{"a":{"b":42}}`)

	out, err := jsonpath.Eval(doc, "$.a.b")
	require.NoError(t, err)
	assert.JSONEq(t, `[42]`, string(out))
}

func TestEvalMissingPropertyReturnsEmpty(t *testing.T) {
	doc := []byte(`{"a":1}`)

	out, err := jsonpath.Eval(doc, "$.missing")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))
}

func TestEvalWildcardObject(t *testing.T) {
	doc := []byte(`{"a":1,"b":2}`)

	out, err := jsonpath.Eval(doc, "$.*")
	require.NoError(t, err)

	var vals []int
	require.NoError(t, json.Unmarshal(out, &vals))
	assert.ElementsMatch(t, []int{1, 2}, vals)
}

func TestEvalArrayIndex(t *testing.T) {
	doc := []byte(`{"items":[10,20,30]}`)

	out, err := jsonpath.Eval(doc, "$.items[1]")
	require.NoError(t, err)
	assert.JSONEq(t, `[20]`, string(out))
}

func TestEvalRecursiveDescent(t *testing.T) {
	doc := []byte(`{"a":{"price":5},"b":{"price":7}}`)

	out, err := jsonpath.Eval(doc, "$..price")
	require.NoError(t, err)

	var vals []int
	require.NoError(t, json.Unmarshal(out, &vals))
	assert.ElementsMatch(t, []int{5, 7}, vals)
}

func TestEvalFilter(t *testing.T) {
	doc := []byte(`{"items":[{"name":"a","kind":"x"},{"name":"b","kind":"y"}]}`)

	out, err := jsonpath.Eval(doc, `$.items[?(@.kind == 'y')]`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"b","kind":"y"}]`, string(out))
}

func TestEvalInvalidJSON(t *testing.T) {
	_, err := jsonpath.Eval([]byte(`{invalid`), "$.a")
	assert.Error(t, err)
}

func TestEvalUnterminatedBracket(t *testing.T) {
	_, err := jsonpath.Eval([]byte(`{}`), "$.a[0")
	assert.Error(t, err)
}
