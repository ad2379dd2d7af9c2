// Package replication composes the rabbitmq log, redislock leader
// election/distributed locks, and the hierarchical quorum accounting
// required by spec.md §4.6 into the Command Executor's replication
// contract.
package replication

import (
	"strconv"
	"strings"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

// Node is one member of the replication group. Weight 0 means the node
// participates in replication (it receives and replays the log) but
// never counts toward quorum, per spec.md §4.6.
type Node struct {
	ID     string
	Group  string
	Weight int
}

// ParseNodes parses the replication.nodes configuration block: each
// entry is "id:group:weight", e.g. "replica-a:us-east:1". A bare "id" or
// "id:group" defaults the remaining fields to group "" and weight 1.
func ParseNodes(specs []string) ([]Node, error) {
	nodes := make([]Node, 0, len(specs))

	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)

		node := Node{ID: parts[0], Weight: 1}

		if node.ID == "" {
			return nil, dogmaerr.New(dogmaerr.KindStorageFault, "replication node spec %q has an empty id", spec)
		}

		if len(parts) > 1 {
			node.Group = parts[1]
		}

		if len(parts) > 2 {
			w, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "replication node spec %q has a non-numeric weight", spec)
			}

			node.Weight = w
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}

// Quorum implements "nodes may be grouped; a write is acknowledged once
// a majority of groups each have a weighted majority" -- a pure
// in-memory accounting structure; no pack library models hierarchical
// quorum directly, so this is the one deliberately hand-rolled piece of
// the replication log (see DESIGN.md).
type Quorum struct {
	groups map[string][]Node
}

// NewQuorum groups nodes by their Group field.
func NewQuorum(nodes []Node) *Quorum {
	groups := make(map[string][]Node)

	for _, n := range nodes {
		groups[n.Group] = append(groups[n.Group], n)
	}

	return &Quorum{groups: groups}
}

// Satisfied reports whether acked (the set of node IDs that have
// acknowledged a write) forms a quorum: a majority of groups must each
// have a strictly-greater-than-half weighted majority of their own
// members acknowledging.
func (q *Quorum) Satisfied(acked map[string]bool) bool {
	if len(q.groups) == 0 {
		return true
	}

	satisfiedGroups := 0

	for _, members := range q.groups {
		total, ackedWeight := 0, 0

		for _, n := range members {
			total += n.Weight

			if acked[n.ID] {
				ackedWeight += n.Weight
			}
		}

		if total > 0 && ackedWeight*2 > total {
			satisfiedGroups++
		}
	}

	return satisfiedGroups*2 > len(q.groups)
}
