// Package mongostore implements repo.Store and repo.IdempotencyStore on
// MongoDB. Each record kind lives in its own collection; documents use the
// BSON tags declared on the domain models.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tbourn/go-wellness-backend/internal/domain"
	"github.com/tbourn/go-wellness-backend/internal/repo"
)

// Collection names.
const (
	MoodsCollection       = "moods"
	SessionsCollection    = "sessions"
	TasksCollection       = "tasks"
	IdempotencyCollection = "idempotency"
)

// Connect dials uri, verifies the primary is reachable and returns the
// named database. The caller owns the client and must Disconnect it.
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return client, client.Database(database), nil
}

// Store is a repo.Store over one collection.
type Store[T any, PT interface {
	*T
	domain.Record
}] struct {
	coll      *mongo.Collection
	timeField string
}

// New returns a store for collection. timeField is the BSON field used for
// the secondary index; pass "" for kinds without one.
func New[T any, PT interface {
	*T
	domain.Record
}](db *mongo.Database, collection, timeField string) *Store[T, PT] {
	return &Store[T, PT]{coll: db.Collection(collection), timeField: timeField}
}

// EnsureIndexes creates the (userId, <timeField>) listing index.
func (s *Store[T, PT]) EnsureIndexes(ctx context.Context) error {
	field := s.timeField
	if field == "" {
		field = "createdAt"
	}
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: field, Value: 1}},
	})
	return err
}

// buildFilter translates q into a BSON filter. Bounds are applied only when
// a time field is set.
func buildFilter(q repo.Query) bson.D {
	filter := bson.D{{Key: "userId", Value: q.OwnerID}}
	if q.TimeField == "" {
		return filter
	}
	rng := bson.D{}
	if q.From != nil {
		rng = append(rng, bson.E{Key: "$gte", Value: q.From.UTC()})
	}
	if q.To != nil {
		rng = append(rng, bson.E{Key: "$lte", Value: q.To.UTC()})
	}
	if len(rng) > 0 {
		filter = append(filter, bson.E{Key: q.TimeField, Value: rng})
	}
	return filter
}

// sortSpec orders by the time field (or createdAt) then _id.
func sortSpec(q repo.Query) bson.D {
	field := q.TimeField
	if field == "" {
		field = "createdAt"
	}
	dir := 1
	if q.Order == repo.SortDesc {
		dir = -1
	}
	return bson.D{{Key: field, Value: dir}, {Key: "_id", Value: 1}}
}

// Find returns the owner's documents filtered and ordered according to q.
func (s *Store[T, PT]) Find(ctx context.Context, q repo.Query) ([]T, error) {
	cur, err := s.coll.Find(ctx, buildFilter(q), options.Find().SetSort(sortSpec(q)))
	if err != nil {
		return nil, err
	}
	out := make([]T, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches a document by _id regardless of owner.
func (s *Store[T, PT]) Get(ctx context.Context, id string) (*T, error) {
	var rec T
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert stores a new document with version 1.
func (s *Store[T, PT]) Insert(ctx context.Context, rec *T) error {
	meta := PT(rec).Meta()
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.CreatedAt
	}
	meta.Version = 1
	_, err := s.coll.InsertOne(ctx, rec)
	return err
}

// Save replaces the document only when _id, userId and version still match.
func (s *Store[T, PT]) Save(ctx context.Context, rec *T, prevVersion int64) error {
	meta := PT(rec).Meta()
	meta.Version = prevVersion + 1
	meta.UpdatedAt = time.Now().UTC()

	filter := bson.D{
		{Key: "_id", Value: meta.ID},
		{Key: "userId", Value: meta.UserID},
		{Key: "version", Value: prevVersion},
	}
	res, err := s.coll.ReplaceOne(ctx, filter, rec)
	if err != nil {
		meta.Version = prevVersion
		return err
	}
	if res.MatchedCount == 0 {
		meta.Version = prevVersion
		if _, err := s.Get(ctx, meta.ID); errors.Is(err, repo.ErrNotFound) {
			return repo.ErrNotFound
		}
		return repo.ErrVersionConflict
	}
	return nil
}

// Delete removes the document permanently.
func (s *Store[T, PT]) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

var (
	_ repo.Store[domain.Mood]    = (*Store[domain.Mood, *domain.Mood])(nil)
	_ repo.Store[domain.Session] = (*Store[domain.Session, *domain.Session])(nil)
	_ repo.Store[domain.Task]    = (*Store[domain.Task, *domain.Task])(nil)
)
