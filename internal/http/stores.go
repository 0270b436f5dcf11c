package httpapi

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gorm.io/gorm"

	"github.com/tbourn/go-wellness-backend/internal/domain"
	"github.com/tbourn/go-wellness-backend/internal/repo"
	"github.com/tbourn/go-wellness-backend/internal/repo/mongostore"
	"github.com/tbourn/go-wellness-backend/internal/services"
)

// Stores bundles the persistence the API is served from. Ping backs the
// readiness probe and may be nil.
type Stores struct {
	Moods       repo.Store[domain.Mood]
	Sessions    repo.Store[domain.Session]
	Tasks       repo.Store[domain.Task]
	Idempotency repo.IdempotencyStore
	Ping        func(context.Context) error
}

// SQLStores serves every kind from one GORM database.
func SQLStores(db *gorm.DB) Stores {
	return Stores{
		Moods:       repo.NewGormStore[domain.Mood](db),
		Sessions:    repo.NewGormStore[domain.Session](db),
		Tasks:       repo.NewGormStore[domain.Task](db),
		Idempotency: repo.NewGormIdempotency(db),
		Ping:        func(ctx context.Context) error { return repo.Ping(ctx, db) },
	}
}

// MongoStores serves every kind from collections of db.
func MongoStores(client *mongo.Client, db *mongo.Database) Stores {
	return Stores{
		Moods:       mongoStore[domain.Mood](db, services.MoodKind.Collection, services.MoodKind.TimeField),
		Sessions:    mongoStore[domain.Session](db, services.SessionKind.Collection, services.SessionKind.TimeField),
		Tasks:       mongoStore[domain.Task](db, services.TaskKind.Collection, services.TaskKind.TimeField),
		Idempotency: mongostore.NewIdempotency(db),
		Ping:        func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
	}
}

func mongoStore[T any, PT interface {
	*T
	domain.Record
}](db *mongo.Database, collection, timeField string) repo.Store[T] {
	return mongostore.New[T, PT](db, collection, timeField)
}

// EnsureMongoIndexes creates the listing and idempotency indexes.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	for _, k := range []interface {
		EnsureIndexes(context.Context) error
	}{
		mongostore.New[domain.Mood](db, services.MoodKind.Collection, services.MoodKind.TimeField),
		mongostore.New[domain.Session](db, services.SessionKind.Collection, services.SessionKind.TimeField),
		mongostore.New[domain.Task](db, services.TaskKind.Collection, services.TaskKind.TimeField),
		mongostore.NewIdempotency(db),
	} {
		if err := k.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}
