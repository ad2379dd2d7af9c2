package replication

import (
	"context"
	"sync"

	"github.com/go-dogma/dogma/internal/replication/rabbitmq"
)

// AckSource is satisfied by rabbitmq.Log's WatchAcks.
type AckSource interface {
	WatchAcks(ctx context.Context) (<-chan rabbitmq.Ack, error)
}

// AckTracker accumulates followers' acks per log index and lets the
// leader block a publish until the configured Quorum is satisfied,
// mirroring the waiter-registration idiom watch.RepoWatchers uses for
// commit notifications.
type AckTracker struct {
	quorum *Quorum

	mu      sync.Mutex
	acked   map[int64]map[string]bool
	waiters map[int64][]chan struct{}
}

// NewAckTracker builds a tracker gated by quorum.
func NewAckTracker(quorum *Quorum) *AckTracker {
	return &AckTracker{
		quorum:  quorum,
		acked:   make(map[int64]map[string]bool),
		waiters: make(map[int64][]chan struct{}),
	}
}

// Record registers that replicaID has applied index, e.g. the leader's
// own local application of a command it is about to publish.
func (t *AckTracker) Record(index int64, replicaID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recordLocked(index, replicaID)
}

func (t *AckTracker) recordLocked(index int64, replicaID string) {
	set, ok := t.acked[index]
	if !ok {
		set = make(map[string]bool)
		t.acked[index] = set
	}

	set[replicaID] = true

	for _, w := range t.waiters[index] {
		close(w)
	}

	delete(t.waiters, index)
	delete(t.acked, index-ackHistoryWindow)
}

// ackHistoryWindow bounds how many past indexes' ack sets are retained;
// WaitForQuorum always blocks on the index it cares about before that
// index could fall out of the window, so this only prevents the map
// from growing without bound.
const ackHistoryWindow = 4096

// Run consumes source until ctx is cancelled, recording every incoming
// Ack.
func (t *AckTracker) Run(ctx context.Context, source AckSource) error {
	acks, err := source.WatchAcks(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-acks:
			if !ok {
				return nil
			}

			t.Record(a.Index, a.ReplicaID)
		}
	}
}

// Satisfied reports whether index has reached quorum right now.
func (t *AckTracker) Satisfied(index int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.quorum.Satisfied(t.acked[index])
}

// WaitForQuorum blocks until index's ack set satisfies the Quorum, ctx
// is cancelled, or a spurious wake finds it already satisfied.
func (t *AckTracker) WaitForQuorum(ctx context.Context, index int64) bool {
	for {
		t.mu.Lock()

		if t.quorum.Satisfied(t.acked[index]) {
			t.mu.Unlock()
			return true
		}

		w := make(chan struct{})
		t.waiters[index] = append(t.waiters[index], w)
		t.mu.Unlock()

		select {
		case <-w:
			continue
		case <-ctx.Done():
			return false
		}
	}
}
