// Package redislock implements the DistributedLock and LeaderElection
// contracts of spec.md §4.6's Replication Log, atop go-redsync's
// single-instance Redlock algorithm: a named lock with automatic
// release on holder failure via TTL expiry.
package redislock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"

	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/mlog"
)

// Locks is a DistributedLock provider over one or more Redis pools.
type Locks struct {
	rs *redsync.Redsync
}

// New wraps a redis client pool in a Redsync instance.
func New(client *goredislib.Client) *Locks {
	pool := goredis.NewPool(client)
	return &Locks{rs: redsync.New(pool)}
}

// Acquisition is a held, named lock; Release returns it.
type Acquisition struct {
	mutex *redsync.Mutex
}

// Release gives up the lock early. Lock also auto-expires if the holder
// never releases it (the TTL set at acquisition), satisfying the
// "automatic release on holder failure" contract of spec.md §4.6.
func (a *Acquisition) Release(ctx context.Context) error {
	_, err := a.mutex.UnlockContext(ctx)
	return err
}

// Lock acquires a named, distributed lock, retrying internally up to
// timeout. This backs the Command Executor's per-repository write
// mutual exclusion (spec.md §4.5) when a replication log is present.
func (l *Locks) Lock(ctx context.Context, key string, ttl, timeout time.Duration) (*Acquisition, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(int(timeout/(100*time.Millisecond))+1),
		redsync.WithRetryDelay(100*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, dogmaerr.New(dogmaerr.KindReplicationError, "failed to acquire a lock for %s in %s", key, timeout)
	}

	return &Acquisition{mutex: mutex}, nil
}

// LeadershipCallbacks are invoked on leadership transitions. Both are
// idempotent and are always invoked serially per replica, per spec.md
// §4.6's "Leader behavior".
type LeadershipCallbacks struct {
	OnTakeLeadership   func(ctx context.Context)
	OnReleaseLeadership func(ctx context.Context)
}

// Elector runs a leader-election loop for one "zone" (the default zone
// has an empty name; zone-scoped elections back zone-leader-only
// plugins, per spec.md §4.6).
type Elector struct {
	locks *Locks
	zone  string
	ttl   time.Duration
	log   mlog.Logger

	mu       sync.Mutex
	leading  bool
	acquired *Acquisition
}

// NewElector constructs an Elector for the named zone ("" for the
// default, replica-wide election).
func NewElector(locks *Locks, zone string, ttl time.Duration, logger mlog.Logger) *Elector {
	if logger == nil {
		logger = mlog.Discard
	}

	return &Elector{locks: locks, zone: zone, ttl: ttl, log: logger}
}

func (e *Elector) key() string {
	if e.zone == "" {
		return "dogma:leader"
	}

	return "dogma:leader:zone:" + e.zone
}

// IsLeader reports whether this replica currently holds leadership.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.leading
}

// Run attempts to acquire leadership in a loop, invoking cb.OnTakeLeadership
// once elected and cb.OnReleaseLeadership if leadership is lost or ctx is
// cancelled. It blocks until ctx is done.
func (e *Elector) Run(ctx context.Context, cb LeadershipCallbacks, retryInterval time.Duration) {
	renewEvery := e.ttl / 3
	if renewEvery <= 0 {
		renewEvery = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			e.stepDown(ctx, cb)
			return
		default:
		}

		acq, err := e.locks.Lock(ctx, e.key(), e.ttl, retryInterval)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryInterval):
				continue
			}
		}

		e.becomeLeader(ctx, acq, cb)
		e.holdAndRenew(ctx, acq, cb, renewEvery)
	}
}

func (e *Elector) becomeLeader(ctx context.Context, acq *Acquisition, cb LeadershipCallbacks) {
	e.mu.Lock()
	e.leading = true
	e.acquired = acq
	e.mu.Unlock()

	e.log.Infof("acquired leadership for zone %q", e.zone)

	if cb.OnTakeLeadership != nil {
		cb.OnTakeLeadership(ctx)
	}
}

func (e *Elector) holdAndRenew(ctx context.Context, acq *Acquisition, cb LeadershipCallbacks, renewEvery time.Duration) {
	ticker := time.NewTicker(renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.stepDown(ctx, cb)
			return
		case <-ticker.C:
			if _, err := acq.mutex.ExtendContext(ctx); err != nil {
				e.log.Warnf("lost leadership renewal for zone %q: %v", e.zone, err)
				e.stepDown(ctx, cb)

				return
			}
		}
	}
}

func (e *Elector) stepDown(ctx context.Context, cb LeadershipCallbacks) {
	e.mu.Lock()
	wasLeading := e.leading
	acq := e.acquired
	e.leading = false
	e.acquired = nil
	e.mu.Unlock()

	if !wasLeading {
		return
	}

	if acq != nil {
		_ = acq.Release(ctx)
	}

	if cb.OnReleaseLeadership != nil {
		cb.OnReleaseLeadership(ctx)
	}
}
