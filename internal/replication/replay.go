package replication

import (
	"context"
	"encoding/json"

	"github.com/go-dogma/dogma/internal/command"
	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/mlog"
	"github.com/go-dogma/dogma/internal/replication/rabbitmq"
)

// EntrySource is satisfied by rabbitmq.Log's Watch, the half of the log
// a follower replays from.
type EntrySource interface {
	Watch(ctx context.Context, fromIndex int64) (<-chan rabbitmq.Entry, error)
}

// Acker is satisfied by rabbitmq.Log's Ack.
type Acker interface {
	Ack(ctx context.Context, index int64) error
}

// Replayer drives a follower's replay of the replication log into the
// Command Executor: decode, apply, ack, track the last-applied index so
// every command is applied exactly once per replica (spec.md §4.6's
// "Replay idempotence").
type Replayer struct {
	Source  EntrySource
	Acker   Acker // nil is valid: acks are only meaningful when a Quorum is configured
	Apply   func(ctx context.Context, cmd command.Command) error
	Logger  mlog.Logger

	lastApplied int64
}

// NewReplayer constructs a Replayer bound to executor's replicated-apply
// path.
func NewReplayer(source EntrySource, acker Acker, executor *command.Executor, logger mlog.Logger) *Replayer {
	if logger == nil {
		logger = mlog.Discard
	}

	return &Replayer{
		Source: source,
		Acker:  acker,
		Apply: func(ctx context.Context, cmd command.Command) error {
			_, err := executor.ApplyReplicated(ctx, cmd)
			return err
		},
		Logger: logger,
	}
}

// LastApplied returns the highest index applied so far. It is held in
// memory only; Run starts Watch just after it.
func (r *Replayer) LastApplied() int64 { return r.lastApplied }

// SeedLastApplied sets the starting point for replay, e.g. from a
// previously persisted checkpoint.
func (r *Replayer) SeedLastApplied(index int64) { r.lastApplied = index }

// Run consumes the log from just after the last-applied index until ctx
// is cancelled. A decode or apply error is logged and the entry is
// skipped rather than wedging replay on one bad command -- matching
// spec.md §4.6's expectation that a replica keeps serving reads even if
// it falls behind.
func (r *Replayer) Run(ctx context.Context) error {
	entries, err := r.Source.Watch(ctx, r.lastApplied+1)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}

			if entry.Index <= r.lastApplied {
				continue
			}

			r.applyEntry(ctx, entry)
		}
	}
}

func (r *Replayer) logger() mlog.Logger {
	if r.Logger == nil {
		return mlog.Discard
	}

	return r.Logger
}

func (r *Replayer) applyEntry(ctx context.Context, entry rabbitmq.Entry) {
	var cmd command.Command
	if err := json.Unmarshal(entry.Command, &cmd); err != nil {
		r.logger().Errorf("replay: discarding index %d, undecodable command: %v", entry.Index, err)
		return
	}

	if err := r.Apply(ctx, cmd); err != nil && !dogmaerr.Is(err, dogmaerr.KindRedundantChange) {
		r.logger().Errorf("replay: apply failed at index %d: %v", entry.Index, err)
	}

	r.lastApplied = entry.Index

	if r.Acker != nil {
		if err := r.Acker.Ack(ctx, entry.Index); err != nil {
			r.logger().Warnf("replay: failed to ack index %d: %v", entry.Index, err)
		}
	}
}
