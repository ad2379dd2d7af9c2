package command

import (
	"context"
	"sync"
	"time"

	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/replication/redislock"
)

// RepoLocker serializes writes to one (project, repository), per
// spec.md §4.5's "per-repository serialization". Lock blocks up to
// timeout and returns a release function on success.
type RepoLocker interface {
	Lock(ctx context.Context, key string, timeout time.Duration) (release func(), err error)
}

// LocalLocker is the NONE-replication-mode locker: one in-process mutex
// per key, modeled as a capacity-1 channel so acquisition can respect a
// context deadline and an explicit timeout.
type LocalLocker struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

// NewLocalLocker constructs an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{chans: make(map[string]chan struct{})}
}

func (l *LocalLocker) chanFor(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.chans[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.chans[key] = ch
	}

	return ch
}

// Lock acquires the in-process lock for key.
func (l *LocalLocker) Lock(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	ch := l.chanFor(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, dogmaerr.New(dogmaerr.KindReplicationError, "failed to acquire a lock for %s in %s", key, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DistributedLocker adapts redislock.Locks to RepoLocker for the
// replicated (non-NONE) mode of spec.md §4.6.
type DistributedLocker struct {
	Locks *redislock.Locks
	TTL   time.Duration
}

// Lock acquires a Redis-backed distributed lock for key.
func (d *DistributedLocker) Lock(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	acq, err := d.Locks.Lock(ctx, key, d.TTL, timeout)
	if err != nil {
		return nil, err
	}

	return func() { _ = acq.Release(context.Background()) }, nil
}
