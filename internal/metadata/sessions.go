package metadata

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

const sessionsCollection = "sessions"

// SessionDocument is the schemaless record a login-flow plugin asks the
// core to hold on its behalf.
type SessionDocument struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
	RemovedAt time.Time `bson:"removed_at,omitempty"`
}

// SessionStore implements command.SessionStore and purge.SessionExpirer
// atop a mongo collection. Removed sessions are tombstoned rather than
// deleted immediately so the purge scheduler's sweep can apply the same
// grace period as project/repository removal.
type SessionStore struct {
	Connection *Connection
	GracePeriod time.Duration
}

func (s *SessionStore) collection(ctx context.Context) (*mongo.Collection, error) {
	db, err := s.Connection.GetDB(ctx)
	if err != nil {
		return nil, err
	}

	return db.Database(s.Connection.Database).Collection(sessionsCollection), nil
}

// Create inserts a new session document, upserting if id was previously
// used and tombstoned.
func (s *SessionStore) Create(ctx context.Context, id string, data []byte) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}

	doc := SessionDocument{ID: id, Data: data, CreatedAt: time.Now()}

	_, err = coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "create session %s", id)
	}

	return nil
}

// Remove tombstones a session for later purge.
func (s *SessionStore) Remove(ctx context.Context, id string) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}

	_, err = coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"removed_at": time.Now()}})
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "remove session %s", id)
	}

	return nil
}

// Get returns the raw payload of a live (non-tombstoned) session.
func (s *SessionStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, false, err
	}

	var doc SessionDocument

	err = coll.FindOne(ctx, bson.M{"_id": id, "removed_at": bson.M{"$exists": false}}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, false, nil
		}

		return nil, false, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "load session %s", id)
	}

	return doc.Data, true, nil
}

// PurgeExpired physically deletes every session tombstoned for longer
// than GracePeriod, implementing purge.SessionExpirer.
func (s *SessionStore) PurgeExpired(ctx context.Context, now time.Time) ([]string, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-s.GracePeriod)

	cur, err := coll.Find(ctx, bson.M{"removed_at": bson.M{"$lte": cutoff, "$exists": true}})
	if err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "scan expired sessions")
	}

	var ids []string

	for cur.Next(ctx) {
		var doc SessionDocument
		if err := cur.Decode(&doc); err != nil {
			return ids, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "decode expired session")
		}

		ids = append(ids, doc.ID)
	}

	if err := cur.Err(); err != nil {
		return ids, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "iterate expired sessions")
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "delete expired sessions")
	}

	return ids, nil
}
