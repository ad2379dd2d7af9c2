package replication_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-dogma/dogma/internal/replication"
)

func TestQuorumEmptyIsAlwaysSatisfied(t *testing.T) {
	q := replication.NewQuorum(nil)
	assert.True(t, q.Satisfied(map[string]bool{}))
}

func TestQuorumSingleGroupMajority(t *testing.T) {
	q := replication.NewQuorum([]replication.Node{
		{ID: "a", Group: "dc1", Weight: 1},
		{ID: "b", Group: "dc1", Weight: 1},
		{ID: "c", Group: "dc1", Weight: 1},
	})

	assert.False(t, q.Satisfied(map[string]bool{"a": true}))
	assert.True(t, q.Satisfied(map[string]bool{"a": true, "b": true}))
}

func TestQuorumHierarchicalAcrossGroups(t *testing.T) {
	q := replication.NewQuorum([]replication.Node{
		{ID: "a1", Group: "dc1", Weight: 1},
		{ID: "a2", Group: "dc1", Weight: 1},
		{ID: "b1", Group: "dc2", Weight: 1},
		{ID: "b2", Group: "dc2", Weight: 1},
		{ID: "c1", Group: "dc3", Weight: 1},
		{ID: "c2", Group: "dc3", Weight: 1},
	})

	// Only dc1 has a majority acked; one of three groups is not enough.
	assert.False(t, q.Satisfied(map[string]bool{"a1": true, "a2": true}))

	// dc1 and dc2 both have a weighted majority -- two of three groups.
	assert.True(t, q.Satisfied(map[string]bool{"a1": true, "a2": true, "b1": true, "b2": true}))
}

func TestQuorumWeightedNode(t *testing.T) {
	q := replication.NewQuorum([]replication.Node{
		{ID: "leader", Group: "dc1", Weight: 3},
		{ID: "observer", Group: "dc1", Weight: 0},
	})

	// The zero-weight observer never contributes to the group's quorum.
	assert.False(t, q.Satisfied(map[string]bool{"observer": true}))
	assert.True(t, q.Satisfied(map[string]bool{"leader": true}))
}

func TestQuorumGroupWithNoWeightNeverSatisfied(t *testing.T) {
	q := replication.NewQuorum([]replication.Node{
		{ID: "a", Group: "dc1", Weight: 0},
		{ID: "b", Group: "dc2", Weight: 1},
	})

	assert.False(t, q.Satisfied(map[string]bool{"a": true, "b": true}))
}
