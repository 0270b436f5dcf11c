package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-wellness-backend/internal/config"
	httpapi "github.com/tbourn/go-wellness-backend/internal/http"
	"github.com/tbourn/go-wellness-backend/internal/repo"
	"github.com/tbourn/go-wellness-backend/internal/repo/mongostore"
)

// backend is a connected storage backend plus its lifecycle hooks.
type backend struct {
	stores  httpapi.Stores
	migrate func(context.Context) error
	// purge deletes expired idempotency keys; nil when the store expires
	// them itself (Mongo TTL index).
	purge func(context.Context, time.Time) (int64, error)
	close func(context.Context) error
}

// Close releases the underlying connections.
func (b *backend) Close() {
	if b == nil || b.close == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.close(ctx); err != nil {
		log.Warn().Err(err).Msg("close store")
	}
}

// Test seams.
var (
	openBackend = openStore

	newBackOff = func(maxElapsed time.Duration) backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 250 * time.Millisecond
		bo.MaxInterval = 5 * time.Second
		bo.MaxElapsedTime = maxElapsed
		return bo
	}
)

// connect opens the configured backend, retrying with exponential backoff
// until cfg.ConnectTimeout elapses. Databases started alongside the server
// (compose, k8s) are often not accepting connections yet.
func connect(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	var b *backend
	op := func() error {
		var err error
		b, err = openBackend(ctx, cfg)
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Str("driver", cfg.Driver).Dur("retry_in", next).Msg("store not reachable")
	}

	var bo backoff.BackOff = newBackOff(cfg.ConnectTimeout)
	if cfg.ConnectTimeout <= 0 {
		bo = &backoff.StopBackOff{}
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("connect %s store: %w", cfg.Driver, err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("store connected")
	return b, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	if cfg.Driver == config.DriverMongo {
		return openMongo(ctx, cfg)
	}
	return openSQL(ctx, cfg)
}

func openSQL(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	db, err := repo.Open(repo.Options{
		Driver:  cfg.Driver,
		Path:    cfg.Path,
		DSN:     cfg.DSN,
		Tracing: cfg.Tracing,
	})
	if err != nil {
		return nil, err
	}
	if err := repo.Ping(ctx, db); err != nil {
		_ = closeSQL(db)
		return nil, err
	}

	idem := repo.NewGormIdempotency(db)
	return &backend{
		stores:  httpapi.SQLStores(db),
		migrate: func(context.Context) error { return repo.AutoMigrate(db) },
		purge:   idem.PurgeExpired,
		close:   func(context.Context) error { return closeSQL(db) },
	}, nil
}

func closeSQL(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func openMongo(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, db, err := mongostore.Connect(dctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	return &backend{
		stores:  httpapi.MongoStores(client, db),
		migrate: func(ctx context.Context) error { return httpapi.EnsureMongoIndexes(ctx, db) },
		close:   client.Disconnect,
	}, nil
}

// purgeInterval runs the janitor a few times per TTL, within sane bounds.
func purgeInterval(ttl time.Duration) time.Duration {
	d := ttl / 4
	switch {
	case d < time.Minute:
		return time.Minute
	case d > time.Hour:
		return time.Hour
	}
	return d
}

// purgeLoop periodically deletes expired idempotency keys until ctx ends.
func purgeLoop(ctx context.Context, every time.Duration, purge func(context.Context, time.Time) (int64, error)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := purge(ctx, now.UTC())
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				log.Warn().Err(err).Msg("purge idempotency keys")
			case n > 0:
				log.Debug().Int64("deleted", n).Msg("purged idempotency keys")
			}
		}
	}
}
