package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-wellness-backend/internal/config"
	"github.com/tbourn/go-wellness-backend/internal/domain"
	"github.com/tbourn/go-wellness-backend/internal/repo"
	"github.com/tbourn/go-wellness-backend/pkg/client"
)

func fastBackOff(t *testing.T, retries uint64) {
	t.Helper()
	prev := newBackOff
	newBackOff = func(time.Duration) backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
	}
	t.Cleanup(func() { newBackOff = prev })
}

func stubOpen(t *testing.T, fn func(context.Context, config.DatabaseConfig) (*backend, error)) {
	t.Helper()
	prev := openBackend
	openBackend = fn
	t.Cleanup(func() { openBackend = prev })
}

func TestConnect_RetriesUntilOpen(t *testing.T) {
	fastBackOff(t, 5)
	var calls int32
	want := &backend{}
	stubOpen(t, func(context.Context, config.DatabaseConfig) (*backend, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("connection refused")
		}
		return want, nil
	})

	got, err := connect(context.Background(), config.DatabaseConfig{Driver: "postgres", ConnectTimeout: time.Second})
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestConnect_GivesUp(t *testing.T) {
	fastBackOff(t, 2)
	var calls int32
	stubOpen(t, func(context.Context, config.DatabaseConfig) (*backend, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection refused")
	})

	_, err := connect(context.Background(), config.DatabaseConfig{Driver: "mysql", ConnectTimeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect mysql store")
	assert.Contains(t, err.Error(), "connection refused")
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestConnect_PermanentAndNoTimeout(t *testing.T) {
	fastBackOff(t, 5)
	var calls int32
	stubOpen(t, func(context.Context, config.DatabaseConfig) (*backend, error) {
		atomic.AddInt32(&calls, 1)
		return nil, backoff.Permanent(errors.New("bad dsn"))
	})
	_, err := connect(context.Background(), config.DatabaseConfig{Driver: "postgres", ConnectTimeout: time.Second})
	require.ErrorContains(t, err, "bad dsn")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// A zero timeout means a single attempt.
	atomic.StoreInt32(&calls, 0)
	stubOpen(t, func(context.Context, config.DatabaseConfig) (*backend, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("down")
	})
	_, err = connect(context.Background(), config.DatabaseConfig{Driver: "postgres"})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestConnect_CancelledContext(t *testing.T) {
	stubOpen(t, func(context.Context, config.DatabaseConfig) (*backend, error) {
		return nil, errors.New("down")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := connect(ctx, config.DatabaseConfig{Driver: "sqlite", ConnectTimeout: time.Minute})
	require.Error(t, err)
}

func TestOpenStore_SQLite(t *testing.T) {
	ctx := context.Background()
	b, err := openStore(ctx, config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "wellness.db"),
	})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.migrate(ctx))
	require.NoError(t, b.stores.Ping(ctx))
	require.NotNil(t, b.purge)

	_, err = b.stores.Idempotency.Put(ctx, "u1", "moods", "k", "rec", http.StatusCreated, time.Millisecond)
	require.NoError(t, err)
	n, err := b.purge(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestOpenStore_UnsupportedSQLDriver(t *testing.T) {
	_, err := openStore(context.Background(), config.DatabaseConfig{Driver: "oracle"})
	require.ErrorContains(t, err, "unsupported sql driver")
}

func TestBackendClose_NilSafe(t *testing.T) {
	var b *backend
	b.Close()
	(&backend{}).Close()

	closed := false
	(&backend{close: func(context.Context) error { closed = true; return errors.New("boom") }}).Close()
	assert.True(t, closed)
}

func TestPurgeInterval(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                  time.Minute,
		2 * time.Minute:    time.Minute,
		20 * time.Minute:   5 * time.Minute,
		24 * time.Hour:     time.Hour,
		4 * 90 * time.Hour: time.Hour,
	}
	for ttl, want := range cases {
		assert.Equal(t, want, purgeInterval(ttl), "ttl=%s", ttl)
	}
}

func TestPurgeLoop_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	done := make(chan struct{})
	go func() {
		purgeLoop(ctx, 2*time.Millisecond, func(_ context.Context, now time.Time) (int64, error) {
			assert.Equal(t, time.UTC, now.Location())
			if atomic.AddInt32(&calls, 1)%2 == 0 {
				return 0, errors.New("transient")
			}
			return 1, nil
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purgeLoop did not stop")
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestRootCmd_MigrateSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", path)
	t.Setenv("AUTH_ALLOW_HEADER", "true")

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--env-file", filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, root.ExecuteContext(context.Background()))

	db, err := repo.OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = closeSQL(db) }()
	for _, m := range []any{&domain.Mood{}, &domain.Session{}, &domain.Task{}, &domain.Idempotency{}} {
		assert.True(t, db.Migrator().HasTable(m), "%T table missing", m)
	}
}

func TestRootCmd_ConfigError(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")
	t.Setenv("AUTH_ALLOW_HEADER", "true")

	root := newRootCmd()
	root.SetArgs([]string{"migrate"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "load config: DB_DRIVER")
}

func TestListenAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	errCh := make(chan error, 1)
	go func() { errCh <- listenAndShutdown(ctx, srv) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	err := listenAndShutdown(context.Background(), &http.Server{Addr: "127.0.0.1:99999"})
	require.ErrorContains(t, err, "listen:")
}

func TestRootCmd_Healthcheck(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/ready" || !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"service_unavailable","message":"store unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"healthcheck", "--url", srv.URL, "--env-file", filepath.Join(t.TempDir(), "none")})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, "ready\n", out.String())

	ready.Store(false)
	root = newRootCmd()
	root.SetArgs([]string{"healthcheck", "--url", srv.URL, "--env-file", filepath.Join(t.TempDir(), "none")})
	err := root.ExecuteContext(context.Background())
	assert.True(t, client.IsStatus(err, http.StatusServiceUnavailable))
}
