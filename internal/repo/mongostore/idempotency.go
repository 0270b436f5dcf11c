package mongostore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tbourn/go-wellness-backend/internal/domain"
	"github.com/tbourn/go-wellness-backend/internal/repo"
)

// Idempotency is the MongoDB implementation of repo.IdempotencyStore.
type Idempotency struct {
	coll *mongo.Collection
}

// NewIdempotency returns a store over the idempotency collection.
func NewIdempotency(db *mongo.Database) *Idempotency {
	return &Idempotency{coll: db.Collection(IdempotencyCollection)}
}

// EnsureIndexes creates the unique (userId, scope, key) index and a TTL
// index that lets the server reap expired keys.
func (s *Idempotency) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "scope", Value: 1}, {Key: "key", Value: 1}},
			Options: options.Index().SetName("ux_user_scope_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return err
}

// Get returns a non-expired record or repo.ErrNotFound.
func (s *Idempotency) Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, repo.ErrNotFound
	}
	filter := bson.D{
		{Key: "userId", Value: userID},
		{Key: "scope", Value: scope},
		{Key: "key", Value: key},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now.UTC()}}},
	}
	var rec domain.Idempotency
	err := s.coll.FindOne(ctx, filter).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put inserts a record and returns repo.ErrDuplicate on unique violation.
func (s *Idempotency) Put(ctx context.Context, userID, scope, key, recordID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		Scope:     scope,
		Key:       key,
		RecordID:  recordID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, repo.ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// Delete removes the key for (userID, scope).
func (s *Idempotency) Delete(ctx context.Context, userID, scope, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.D{
		{Key: "userId", Value: userID},
		{Key: "scope", Value: scope},
		{Key: "key", Value: key},
	})
	return err
}

var _ repo.IdempotencyStore = (*Idempotency)(nil)
