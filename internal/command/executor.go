package command

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-dogma/dogma/internal/content"
	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/mlog"
	"github.com/go-dogma/dogma/internal/project"
	"github.com/go-dogma/dogma/internal/quota"
	"github.com/go-dogma/dogma/internal/watch"
)

// SessionStore is the opaque external store CreateSession/RemoveSession
// commands are forwarded to, per spec.md §4.5.
type SessionStore interface {
	Create(ctx context.Context, id string, data []byte) error
	Remove(ctx context.Context, id string) error
}

// Replicator publishes a normalized PushAsIs command to the replication
// log so followers can replay it deterministically. Nil in NONE
// replication mode.
type Replicator interface {
	Publish(ctx context.Context, cmd Command) error
}

// Executor is the C5 Command Executor.
type Executor struct {
	Projects    *project.Manager
	Watches     *watch.Manager
	Gate        *quota.Gate
	Locker      RepoLocker
	LockTimeout time.Duration
	Sessions    SessionStore
	Replicate   Replicator // nil when this replica should not re-publish (follower replay, or NONE mode)
	Logger      mlog.Logger

	writable atomic.Bool

	cacheMu sync.Mutex
	cache   map[string]Output
}

// New constructs an Executor. LockTimeout defaults to 10s per spec.md
// §4.5.
func New(projects *project.Manager, watches *watch.Manager, gate *quota.Gate, locker RepoLocker) *Executor {
	return &Executor{
		Projects:    projects,
		Watches:     watches,
		Gate:        gate,
		Locker:      locker,
		LockTimeout: 10 * time.Second,
		Logger:      mlog.Discard,
		cache:       make(map[string]Output),
	}
}

// SetWritable toggles whether this replica accepts new commands. A
// replica starts read-only, joins the replication log, replays history,
// then becomes writable (spec.md §4.5's "Leadership").
func (e *Executor) SetWritable(w bool) {
	e.writable.Store(w)
}

// Writable reports the current writability state.
func (e *Executor) Writable() bool {
	return e.writable.Load()
}

// Apply executes cmd and returns its Output. Non-mutating session
// commands and administrative project/repository commands bypass the
// per-repository lock; NormalizingPush/PushAsIs acquire it.
func (e *Executor) Apply(ctx context.Context, cmd Command) (Output, error) {
	if cached, ok := e.cachedResult(cmd.ID); ok {
		return cached, nil
	}

	if !e.Writable() && cmd.Type != RemoveSession {
		return Output{}, dogmaerr.ShuttingDown()
	}

	out, err := e.dispatch(ctx, cmd)
	if err != nil {
		return Output{}, err
	}

	e.cacheResult(cmd.ID, out)

	return out, nil
}

// ApplyReplicated applies cmd as replayed from the replication log,
// bypassing the writable gate that rejects client-originated commands on
// a read-only follower (spec.md §4.6: followers must keep applying the
// log regardless of their own writability). Idempotency-cache behavior
// is unchanged.
func (e *Executor) ApplyReplicated(ctx context.Context, cmd Command) (Output, error) {
	if cached, ok := e.cachedResult(cmd.ID); ok {
		return cached, nil
	}

	out, err := e.dispatch(ctx, cmd)
	if err != nil {
		return Output{}, err
	}

	e.cacheResult(cmd.ID, out)

	return out, nil
}

func (e *Executor) cachedResult(id string) (Output, bool) {
	if id == "" {
		return Output{}, false
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	out, ok := e.cache[id]

	return out, ok
}

func (e *Executor) cacheResult(id string, out Output) {
	if id == "" {
		return
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	e.cache[id] = out
}

func (e *Executor) dispatch(ctx context.Context, cmd Command) (Output, error) {
	now := time.UnixMilli(cmd.TimestampMillis)
	if cmd.TimestampMillis == 0 {
		now = time.Now()
	}

	switch cmd.Type {
	case CreateProject:
		_, err := e.Projects.Create(ctx, cmd.Project, cmd.Author, now)
		return Output{}, err

	case RemoveProject:
		return Output{}, e.Projects.Remove(ctx, cmd.Project, now)

	case UnremoveProject:
		return Output{}, e.Projects.Unremove(ctx, cmd.Project)

	case PurgeProject:
		_, err := e.Projects.PurgeMarked(ctx, now)
		return Output{}, err

	case CreateRepository:
		_, err := e.Projects.CreateRepository(ctx, cmd.Project, cmd.Repository, cmd.Author, now)
		return Output{}, err

	case RemoveRepository:
		if err := e.Projects.RemoveRepository(ctx, cmd.Project, cmd.Repository, now); err != nil {
			return Output{}, err
		}

		// Wake every pending watchFile/watchRepository on this repository
		// with a terminal signal instead of letting them hang to timeout.
		e.Watches.Shutdown(cmd.Project+"/"+cmd.Repository, dogmaerr.RepositoryNotFound(cmd.Project, cmd.Repository))

		return Output{}, nil

	case UnremoveRepository:
		return Output{}, e.Projects.UnremoveRepository(ctx, cmd.Project, cmd.Repository)

	case PurgeRepository:
		_, err := e.Projects.PurgeMarked(ctx, now)
		return Output{}, err

	case NormalizingPush:
		return e.applyPush(ctx, cmd, now, true)

	case PushAsIs:
		return e.applyPush(ctx, cmd, now, false)

	case CreateSession:
		if e.Sessions == nil {
			return Output{}, dogmaerr.New(dogmaerr.KindQueryExecution, "no session store configured")
		}

		return Output{}, e.Sessions.Create(ctx, cmd.SessionID, cmd.SessionData)

	case RemoveSession:
		if e.Sessions == nil {
			return Output{}, nil
		}

		return Output{}, e.Sessions.Remove(ctx, cmd.SessionID)

	case SetWriteQuota:
		e.Gate.SetQuota(cmd.Project+"/"+cmd.Repository, cmd.Quota)
		return Output{}, nil

	default:
		return Output{}, dogmaerr.New(dogmaerr.KindQueryExecution, "unknown command type %d", cmd.Type)
	}
}

// applyPush implements spec.md §4.5's "Apply step" for both
// NormalizingPush (normalize is performed by the leader) and PushAsIs
// (a follower replays the already-normalized diff verbatim, never
// re-resolving JSON-patch conflicts).
func (e *Executor) applyPush(ctx context.Context, cmd Command, now time.Time, normalize bool) (Output, error) {
	repoKey := cmd.Project + "/" + cmd.Repository

	if err := e.Gate.Allow(ctx, cmd.Project, cmd.Repository); err != nil {
		return Output{}, err
	}

	release, err := e.Locker.Lock(ctx, repoKey, e.LockTimeout)
	if err != nil {
		return Output{}, err
	}
	defer release()

	engine, err := e.Projects.GetRepository(cmd.Project, cmd.Repository)
	if err != nil {
		return Output{}, err
	}

	var (
		rev  content.Revision
		diff map[string]content.Change
	)

	if normalize {
		rev, diff, err = engine.Commit(ctx, cmd.BaseRevision, cmd.Author, "", cmd.Summary, cmd.Detail, cmd.Markup, now.UnixMilli(), cmd.Changes)
		if err != nil {
			return Output{}, err
		}

		if e.Replicate != nil {
			asIs := cmd
			asIs.Type = PushAsIs
			asIs.ResultRevision = rev
			asIs.ResultDiff = diff

			if err := e.Replicate.Publish(ctx, asIs); err != nil {
				e.Logger.Warnf("failed to publish replication entry for %s: %v", repoKey, err)
			}
		}
	} else {
		tree, applyErr := engine.ApplyDiffAt(cmd.BaseRevision, cmd.ResultRevision, cmd.ResultDiff)
		if applyErr != nil {
			return Output{}, applyErr
		}

		rev, diff = cmd.ResultRevision, cmd.ResultDiff
		_ = tree
	}

	changedPaths := make([]string, 0, len(diff))
	for p := range diff {
		changedPaths = append(changedPaths, p)
	}

	e.Watches.Notify(repoKey, rev, changedPaths)

	return Output{Revision: rev, Diff: diff}, nil
}
