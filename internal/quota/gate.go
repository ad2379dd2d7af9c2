// Package quota implements the C7 Quota Gate of spec.md §4.7: a
// per-repository token bucket, optionally backed by a Redis shared
// counter when a replication log is present so the aggregate write rate
// across replicas stays bounded.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

// Quota is a per-repository write rate limit. A nil *Quota means
// unlimited and MUST bypass all accounting, per spec.md §4.7.
type Quota struct {
	RequestQuota     int
	TimeWindowSeconds int
}

// Shared is the Redis-backed aggregate counter used when commands are
// replicated across nodes. It implements a fixed-window counter: each
// window is a single INCR key that expires after TimeWindowSeconds.
type Shared struct {
	Client *redis.Client
	Prefix string
}

// Allow increments the shared counter for repoKey's current window and
// reports whether the increment is still within quota.
func (s *Shared) Allow(ctx context.Context, repoKey string, q *Quota) (bool, error) {
	window := time.Duration(q.TimeWindowSeconds) * time.Second
	bucket := time.Now().Unix() / int64(q.TimeWindowSeconds)
	key := fmt.Sprintf("%s:quota:%s:%d", s.Prefix, repoKey, bucket)

	count, err := s.Client.Incr(ctx, key).Result()
	if err != nil {
		return false, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "increment shared quota counter for %s", repoKey)
	}

	if count == 1 {
		s.Client.Expire(ctx, key, window)
	}

	return count <= int64(q.RequestQuota), nil
}

// Gate is the per-process quota accounting surface the Command Executor
// consults before applying a write.
type Gate struct {
	mu           sync.Mutex
	quotas       map[string]*Quota
	limiters     map[string]*rate.Limiter
	shared       *Shared
	defaultQuota *Quota
	defaultLimiter *rate.Limiter
}

// New constructs a Gate. shared may be nil (no replication log present,
// per spec.md §4.7 -- local token buckets only).
func New(shared *Shared) *Gate {
	return &Gate{
		quotas:   make(map[string]*Quota),
		limiters: make(map[string]*rate.Limiter),
		shared:   shared,
	}
}

// SetQuota implements the SetWriteQuota command: q == nil disables
// accounting for repoKey entirely.
func (g *Gate) SetQuota(repoKey string, q *Quota) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if q == nil {
		delete(g.quotas, repoKey)
		delete(g.limiters, repoKey)

		return
	}

	g.quotas[repoKey] = q
	g.limiters[repoKey] = rate.NewLimiter(
		rate.Limit(float64(q.RequestQuota)/float64(q.TimeWindowSeconds)),
		q.RequestQuota,
	)
}

// SetDefaultQuota establishes the fallback quota consulted for any
// repository without an explicit SetQuota entry, per
// writeQuotaPerRepository's role as a store-wide default. q == nil
// disables the default (unlimited unless overridden per-repository).
func (g *Gate) SetDefaultQuota(q *Quota) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.defaultQuota = q

	if q == nil {
		g.defaultLimiter = nil
		return
	}

	g.defaultLimiter = rate.NewLimiter(
		rate.Limit(float64(q.RequestQuota)/float64(q.TimeWindowSeconds)),
		q.RequestQuota,
	)
}

// Allow reports whether a write to repoKey may proceed right now,
// consuming one unit of quota if so. Returns dogmaerr.TooManyRequests
// when the quota is exceeded.
func (g *Gate) Allow(ctx context.Context, project, repo string) error {
	repoKey := project + "/" + repo

	g.mu.Lock()
	q, hasQuota := g.quotas[repoKey]
	limiter := g.limiters[repoKey]

	if !hasQuota && g.defaultQuota != nil {
		// Each repository gets its own bucket shaped like the default one.
		q, hasQuota = g.defaultQuota, true
		key := "default:" + repoKey
		limiter = g.limiters[key]

		if limiter == nil || limiter.Limit() != g.defaultLimiter.Limit() || limiter.Burst() != g.defaultLimiter.Burst() {
			limiter = rate.NewLimiter(g.defaultLimiter.Limit(), g.defaultLimiter.Burst())
			g.limiters[key] = limiter
		}
	}
	g.mu.Unlock()

	if !hasQuota {
		return nil
	}

	if g.shared != nil {
		ok, err := g.shared.Allow(ctx, repoKey, q)
		if err != nil {
			return err
		}

		if !ok {
			return dogmaerr.TooManyRequests(project, repo)
		}

		return nil
	}

	if !limiter.Allow() {
		return dogmaerr.TooManyRequests(project, repo)
	}

	return nil
}
