// Package server wires every component into one running process: the
// project manager, watch manager, quota gate, command executor, the
// replication stack (when configured), and the purge scheduler, under a
// dogmaapp.Launcher honoring the configured graceful-shutdown window.
package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	goredislib "github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/go-dogma/dogma/internal/command"
	"github.com/go-dogma/dogma/internal/config"
	"github.com/go-dogma/dogma/internal/dogmaapp"
	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/metadata"
	"github.com/go-dogma/dogma/internal/mlog"
	"github.com/go-dogma/dogma/internal/project"
	"github.com/go-dogma/dogma/internal/purge"
	"github.com/go-dogma/dogma/internal/quota"
	"github.com/go-dogma/dogma/internal/replication"
	"github.com/go-dogma/dogma/internal/replication/rabbitmq"
	"github.com/go-dogma/dogma/internal/replication/redislock"
	"github.com/go-dogma/dogma/internal/statusfile"
	"github.com/go-dogma/dogma/internal/store/postgres"
	"github.com/go-dogma/dogma/internal/watch"
)

// Server owns every long-lived component and the process-wide advisory
// lock on the data directory.
type Server struct {
	Config *config.Config
	Logger mlog.Logger

	dataLock *flock.Flock
	conn     *postgres.Connection
	store    *postgres.Store
	mongo    *metadata.Connection

	Projects *project.Manager
	Watches  *watch.Manager
	Gate     *quota.Gate
	Executor *command.Executor
	Sessions *metadata.SessionStore

	replicationLog *rabbitmq.Log
	elector        *redislock.Elector
	ackTracker     *replication.AckTracker
	replayer       *replication.Replayer

	launcher *dogmaapp.Launcher
}

// New constructs every component from cfg but does not yet connect to
// external services or start background services; call Start for that.
func New(cfg *config.Config, logger mlog.Logger) *Server {
	if logger == nil {
		logger = mlog.Discard
	}

	return &Server{Config: cfg, Logger: logger}
}

// Start acquires the data-directory lock, connects to every backing
// store, loads the project manager, builds the command executor, and
// starts all background services. It blocks until ctx is cancelled, then
// tears everything down within the configured graceful-shutdown window.
func (s *Server) Start(ctx context.Context) error {
	s.dataLock = flock.New(filepath.Join(s.Config.DataDir, ".lock"))

	locked, err := s.dataLock.TryLock()
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "acquire data directory lock")
	}

	if !locked {
		return dogmaerr.New(dogmaerr.KindStorageFault, "data directory %s is already in use by another process", s.Config.DataDir)
	}

	defer s.dataLock.Unlock() //nolint:errcheck

	if err := s.connectStorage(ctx); err != nil {
		return err
	}
	defer s.closeStorage(ctx)

	projects, err := project.New(ctx, s.store, project.Config{
		CacheSize:            s.Config.RepositoryCacheSize,
		PurgeGracePeriod:     s.Config.MaxRemovedRepoAge,
		NumRepositoryWorkers: s.Config.NumRepositoryWorkers,
		Logger:               s.Logger.WithFields("component", "project-manager"),
	})
	if err != nil {
		return err
	}

	s.Projects = projects
	s.Watches = watch.NewManager()

	var shared *quota.Shared
	if s.Config.Replication.Method != "NONE" {
		shared = &quota.Shared{
			Client: goredislib.NewClient(&goredislib.Options{Addr: s.Config.Storage.RedisAddr}),
			Prefix: "dogma",
		}
	}

	s.Gate = quota.New(shared)

	if s.Config.DefaultQuota.RequestQuota > 0 {
		s.Gate.SetDefaultQuota(&quota.Quota{
			RequestQuota:      s.Config.DefaultQuota.RequestQuota,
			TimeWindowSeconds: s.Config.DefaultQuota.TimeWindowSeconds,
		})
	}

	locker, err := s.buildLocker(ctx)
	if err != nil {
		return err
	}

	s.Sessions = &metadata.SessionStore{Connection: s.mongo, GracePeriod: s.Config.SessionPurgeGracePeriod}

	s.Executor = command.New(s.Projects, s.Watches, s.Gate, locker)
	s.Executor.Sessions = s.Sessions
	s.Executor.Logger = s.Logger.WithFields("component", "command-executor")
	s.Executor.SetWritable(true)

	if err := s.startReplication(ctx); err != nil {
		return err
	}

	s.launcher = dogmaapp.New(s.Logger, s.Config.Shutdown.QuietPeriod, s.Config.Shutdown.Timeout)

	sweeper := purge.New(s.Projects, s.Sessions, s.leadershipChecker(), s.Config.PurgeSweepInterval, s.Logger.WithFields("component", "purge-scheduler"))
	s.launcher.Add("purge-scheduler", sweeper)

	if s.ackTracker != nil {
		s.launcher.AddFunc("replication-acks", func(ctx context.Context) error {
			return s.ackTracker.Run(ctx, s.replicationLog)
		})
	}

	if s.replayer != nil {
		s.launcher.AddFunc("replication-replay", func(ctx context.Context) error {
			return s.replayer.Run(ctx)
		})
	}

	if s.elector != nil {
		s.launcher.AddFunc("leader-election", func(ctx context.Context) error {
			s.elector.Run(ctx, redislock.LeadershipCallbacks{
				OnTakeLeadership: func(ctx context.Context) {
					s.Logger.Infof("took leadership, enabling writes")
					s.Executor.SetWritable(true)
				},
				OnReleaseLeadership: func(ctx context.Context) {
					s.Logger.Warnf("lost leadership, disabling writes")
					s.Executor.SetWritable(false)
				},
			}, 2*time.Second)

			return nil
		})
	}

	s.launcher.Run(ctx)

	return s.saveStatus()
}

func (s *Server) connectStorage(ctx context.Context) error {
	s.conn = &postgres.Connection{
		PrimaryDSN:     s.Config.Storage.PostgresPrimaryDSN,
		ReplicaDSN:     s.Config.Storage.PostgresReplicaDSN,
		DatabaseName:   s.Config.Storage.PostgresDatabase,
		MigrationsPath: s.Config.Storage.MigrationsPath,
		Logger:         s.Logger.WithFields("component", "postgres"),
	}

	if err := s.conn.Connect(ctx); err != nil {
		return err
	}

	s.store = postgres.NewStore(s.conn)

	s.mongo = &metadata.Connection{
		URI:      s.Config.Storage.MongoURI,
		Database: s.Config.Storage.MongoDatabase,
		Logger:   s.Logger.WithFields("component", "mongo"),
	}

	return s.mongo.Connect(ctx)
}

func (s *Server) closeStorage(ctx context.Context) {
	if s.conn != nil {
		_ = s.conn.Close()
	}

	if s.mongo != nil {
		_ = s.mongo.Close(ctx)
	}

	if s.replicationLog != nil {
		_ = s.replicationLog.Close()
	}
}

func (s *Server) buildLocker(ctx context.Context) (command.RepoLocker, error) {
	if s.Config.Replication.Method == "NONE" {
		return command.NewLocalLocker(), nil
	}

	client := goredislib.NewClient(&goredislib.Options{Addr: s.Config.Storage.RedisAddr})
	locks := redislock.New(client)

	return &command.DistributedLocker{Locks: locks, TTL: 10 * time.Second}, nil
}

func (s *Server) startReplication(ctx context.Context) error {
	if s.Config.Replication.Method == "NONE" {
		return nil
	}

	log, err := rabbitmq.Dial(s.Config.Storage.RabbitMQURL, s.Config.Replication.ServerID)
	if err != nil {
		return err
	}

	s.replicationLog = log

	nodes, err := replication.ParseNodes(s.Config.Replication.Nodes)
	if err != nil {
		return err
	}

	quorum := replication.NewQuorum(nodes)
	s.ackTracker = replication.NewAckTracker(quorum)

	client := goredislib.NewClient(&goredislib.Options{Addr: s.Config.Storage.RedisAddr})
	locks := redislock.New(client)
	s.elector = redislock.NewElector(locks, s.Config.Zone.CurrentZone, 10*time.Second, s.Logger.WithFields("component", "leader-election"))

	quorumTimeout := s.Config.Replication.Timeout
	if quorumTimeout <= 0 {
		quorumTimeout = 10 * time.Second
	}

	numWorkers := s.Config.Replication.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}

	s.Executor.Replicate = &leaderPublisher{
		log:        log,
		elector:    s.elector,
		ackTracker: s.ackTracker,
		timeout:    quorumTimeout,
		sem:        semaphore.NewWeighted(int64(numWorkers)),
	}
	s.Executor.SetWritable(false)

	s.replayer = replication.NewReplayer(log, log, s.Executor, s.Logger.WithFields("component", "replication-replay"))

	return nil
}

func (s *Server) leadershipChecker() purge.LeadershipChecker {
	if s.elector == nil {
		return nil
	}

	return s.elector
}

func (s *Server) saveStatus() error {
	return statusfile.Save(s.Config.DataDir, statusfile.Status{
		Writable:    s.Executor.Writable(),
		Replicating: s.elector != nil,
	})
}

// leaderPublisher adapts a rabbitmq.Log + redislock.Elector pair to
// command.Replicator, refusing to publish when this replica is not the
// leader (spec.md §4.6's "at most one replica may append"), and blocking
// the caller until the configured hierarchical Quorum acknowledges the
// appended entry. Concurrent publishes are bounded by sem
// (replication.numWorkers), spec.md §5's replication worker pool.
type leaderPublisher struct {
	log        *rabbitmq.Log
	elector    *redislock.Elector
	ackTracker *replication.AckTracker
	timeout    time.Duration
	sem        *semaphore.Weighted
}

func (p *leaderPublisher) Publish(ctx context.Context, cmd command.Command) error {
	if !p.elector.IsLeader() {
		return dogmaerr.New(dogmaerr.KindReplicationError, "refusing to publish: this replica is not the leader")
	}

	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)
	}

	raw, err := marshalCommand(cmd)
	if err != nil {
		return err
	}

	idx, err := p.log.Append(ctx, raw)
	if err != nil {
		return err
	}

	if p.ackTracker == nil {
		return nil
	}

	// The leader already applied cmd locally before publishing; count
	// that as its own ack instead of waiting on a self-addressed message.
	p.ackTracker.Record(idx, p.log.ReplicaID())

	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if !p.ackTracker.WaitForQuorum(waitCtx, idx) {
		return dogmaerr.New(dogmaerr.KindReplicationError, "quorum not reached for index %d within %s", idx, p.timeout)
	}

	return nil
}

func marshalCommand(cmd command.Command) ([]byte, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "marshal command %s", cmd.ID)
	}

	return raw, nil
}
