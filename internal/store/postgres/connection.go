// Package postgres is the C1 Repository Store's persistence layer: a
// primary/replica connection pool, schema migrations, and the
// commit-log/head-pointer tables backing each repository.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // migration source driver
	_ "github.com/jackc/pgx/v5/stdlib"                   // database/sql driver registration

	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/mlog"
)

// Connection is a hub for the primary/replica postgres pool used by the
// repository store.
type Connection struct {
	PrimaryDSN     string
	ReplicaDSN     string // empty disables read-replica routing; replica == primary
	DatabaseName   string
	MigrationsPath string // file:// source path for golang-migrate
	Logger         mlog.Logger

	db        *dbresolver.DB
	connected bool
}

// Connect opens the primary (and, if configured, replica) pools, applies
// pending schema migrations against the primary, and verifies liveness.
func (c *Connection) Connect(ctx context.Context) error {
	if c.Logger == nil {
		c.Logger = mlog.Discard
	}

	c.Logger.Info("connecting to postgres")

	primary, err := sql.Open("pgx", c.PrimaryDSN)
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "open primary postgres connection")
	}

	replicaDSN := c.ReplicaDSN
	if replicaDSN == "" {
		replicaDSN = c.PrimaryDSN
	}

	replica, err := sql.Open("pgx", replicaDSN)
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "open replica postgres connection")
	}

	resolved := dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)

	if err := c.migrate(primary); err != nil {
		return err
	}

	if err := resolved.PingContext(ctx); err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "ping postgres")
	}

	c.db = &resolved
	c.connected = true

	c.Logger.Info("connected to postgres")

	return nil
}

func (c *Connection) migrate(primary *sql.DB) error {
	if c.MigrationsPath == "" {
		return nil
	}

	driver, err := postgres.WithInstance(primary, &postgres.Config{
		MultiStatementEnabled: true,
		DatabaseName:          c.DatabaseName,
		SchemaName:            "public",
	})
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "create migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+c.MigrationsPath, c.DatabaseName, driver)
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "load migrations from %s", c.MigrationsPath)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "apply migrations")
	}

	return nil
}

// DB returns the resolved primary/replica pool, connecting lazily if
// Connect has not yet been called.
func (c *Connection) DB(ctx context.Context) (dbresolver.DB, error) {
	if !c.connected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return *c.db, nil
}

// Close releases the underlying primary and replica pools.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	return (*c.db).Close()
}

func wrapStorageFault(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, fmt.Sprintf(format, args...))
}
