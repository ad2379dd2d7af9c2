package replication_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/replication"
)

func TestParseNodesFullSpec(t *testing.T) {
	nodes, err := replication.ParseNodes([]string{"a:dc1:2", "b:dc1:1"})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, replication.Node{ID: "a", Group: "dc1", Weight: 2}, nodes[0])
	assert.Equal(t, replication.Node{ID: "b", Group: "dc1", Weight: 1}, nodes[1])
}

func TestParseNodesDefaultsGroupAndWeight(t *testing.T) {
	nodes, err := replication.ParseNodes([]string{"solo"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, replication.Node{ID: "solo", Group: "", Weight: 1}, nodes[0])
}

func TestParseNodesRejectsEmptyID(t *testing.T) {
	_, err := replication.ParseNodes([]string{":dc1:1"})
	assert.Error(t, err)
}

func TestParseNodesRejectsNonNumericWeight(t *testing.T) {
	_, err := replication.ParseNodes([]string{"a:dc1:many"})
	assert.Error(t, err)
}

func TestParseNodesEmptyInput(t *testing.T) {
	nodes, err := replication.ParseNodes(nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
