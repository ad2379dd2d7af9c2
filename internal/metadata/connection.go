// Package metadata stores the one kind of state the replicated
// configuration core never keeps in postgres: short-lived,
// frequently-created-and-discarded session records created by login-flow
// plugins (spec.md §4.5's CreateSession/RemoveSession commands). A
// document store is a better fit for this than another Postgres table:
// sessions are schemaless blobs with no referential integrity to the
// rest of the store, so this package wraps a dedicated mongo
// connection instead of extending the postgres package.
package metadata

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/mlog"
)

// Connection is a hub for the mongodb connection backing session
// storage.
type Connection struct {
	URI       string
	Database  string
	Logger    mlog.Logger
	client    *mongo.Client
	connected bool
}

// Connect dials mongo and pings it. Safe to call once at startup; GetDB
// lazily connects if Connect was never called.
func (c *Connection) Connect(ctx context.Context) error {
	if c.Logger == nil {
		c.Logger = mlog.Discard
	}

	c.Logger.Infof("connecting to mongodb at %s", c.Database)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "connect to mongodb")
	}

	if err := client.Ping(ctx, nil); err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "ping mongodb")
	}

	c.client = client
	c.connected = true

	c.Logger.Infof("connected to mongodb")

	return nil
}

// GetDB returns the live client, connecting lazily if necessary.
func (c *Connection) GetDB(ctx context.Context) (*mongo.Client, error) {
	if !c.connected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return c.client, nil
}

// Close disconnects the client.
func (c *Connection) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}

	return c.client.Disconnect(ctx)
}
