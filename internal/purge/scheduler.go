// Package purge implements the C8 Purge Scheduler of spec.md §4.8: a
// ticker-driven sweep that physically deletes projects and repositories
// that have been removed for longer than a configured grace period, and
// expires tombstoned sessions in the metadata store. It runs only while
// this replica holds leadership in a replicated deployment; in NONE mode
// it always runs.
package purge

import (
	"context"
	"time"

	"github.com/go-dogma/dogma/internal/mlog"
	"github.com/go-dogma/dogma/internal/project"
)

// LeadershipChecker reports whether this replica is currently allowed to
// run the sweep. A nil checker means "always leader" (NONE mode).
type LeadershipChecker interface {
	IsLeader() bool
}

// SessionExpirer purges tombstoned sessions past their own grace period.
// Implemented by the metadata package's session store.
type SessionExpirer interface {
	PurgeExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Scheduler runs the periodic sweep.
type Scheduler struct {
	Projects *project.Manager
	Sessions SessionExpirer // nil disables session purging
	Leader   LeadershipChecker
	Interval time.Duration
	Logger   mlog.Logger
}

// New constructs a Scheduler. interval defaults to one minute, matching
// spec.md §4.8's "default sweep interval".
func New(projects *project.Manager, sessions SessionExpirer, leader LeadershipChecker, interval time.Duration, logger mlog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}

	if logger == nil {
		logger = mlog.Discard
	}

	return &Scheduler{
		Projects: projects,
		Sessions: sessions,
		Leader:   leader,
		Interval: interval,
		Logger:   logger,
	}
}

// Run implements dogmaapp.Service: it ticks until ctx is cancelled,
// sweeping once immediately on start.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	if s.Leader != nil && !s.Leader.IsLeader() {
		return
	}

	now := time.Now()

	purged, err := s.Projects.PurgeMarked(ctx, now)
	if err != nil {
		s.Logger.Warnf("purge sweep: project/repository purge failed: %v", err)
	} else if len(purged) > 0 {
		s.Logger.Infof("purge sweep: purged %d project(s): %v", len(purged), purged)
	}

	if s.Sessions == nil {
		return
	}

	expired, err := s.Sessions.PurgeExpired(ctx, now)
	if err != nil {
		s.Logger.Warnf("purge sweep: session purge failed: %v", err)
	} else if len(expired) > 0 {
		s.Logger.Infof("purge sweep: expired %d session(s)", len(expired))
	}
}
