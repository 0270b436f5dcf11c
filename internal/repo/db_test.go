package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-wellness-backend/internal/domain"
)

func openFileDB(t *testing.T, opts Options) *gorm.DB {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "wellness.db")
	}
	db, err := Open(opts)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "wellness.db")

	db, err := OpenSQLite(path)
	require.Error(t, err)
	assert.Nil(t, db)
	assert.True(t, os.IsNotExist(err), "want a not-exist error, got %v", err)
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	db := openFileDB(t, Options{Driver: DriverSQLite})

	pragmas := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
	}
	for _, p := range pragmas {
		var got string
		require.NoError(t, db.Raw("PRAGMA "+p.name).Row().Scan(&got), p.name)
		assert.Equal(t, p.want, strings.ToLower(got), "PRAGMA %s", p.name)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
	assert.Equal(t, time.UTC, db.NowFunc().Location())
}

func TestAutoMigrate_AllRecordKinds(t *testing.T) {
	db := openFileDB(t, Options{})
	require.NoError(t, AutoMigrate(db))
	// A second run against an existing schema is a no-op.
	require.NoError(t, AutoMigrate(db))

	for _, model := range []any{&domain.Mood{}, &domain.Session{}, &domain.Task{}, &domain.Idempotency{}} {
		assert.True(t, db.Migrator().HasTable(model), "%T table", model)
	}

	due := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	task := &domain.Task{Owned: domain.Owned{ID: "t1", UserID: "u1", Version: 1}, Title: "stretch", Deadline: &due}
	require.NoError(t, db.Create(task).Error)

	var got domain.Task
	require.NoError(t, db.First(&got, "id = ?", "t1").Error)
	assert.Equal(t, "stretch", got.Title)
	assert.False(t, got.Completed)
	require.NotNil(t, got.Deadline)
	assert.True(t, got.Deadline.Equal(due))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestOpen_Drivers(t *testing.T) {
	t.Run("sqlite is case-insensitive and traced", func(t *testing.T) {
		db := openFileDB(t, Options{Driver: " SQLite ", Tracing: true})
		assert.Equal(t, "sqlite", db.Dialector.Name())
		assert.NoError(t, Ping(context.Background(), db))
	})

	bad := []struct {
		name string
		opts Options
		want string
	}{
		{"unknown driver", Options{Driver: "oracle"}, "unsupported"},
		{"postgres without dsn", Options{Driver: DriverPostgres}, "empty DSN"},
		{"mysql blank dsn", Options{Driver: DriverMySQL, DSN: "  "}, "empty DSN"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
