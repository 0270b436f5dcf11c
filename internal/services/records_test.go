package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wellness-backend/internal/domain"
	"github.com/tbourn/go-wellness-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func moodService(t *testing.T) *RecordService[domain.Mood, *domain.Mood, domain.MoodInput] {
	return NewRecordService(MoodKind, repo.Store[domain.Mood](repo.NewGormStore[domain.Mood](newTestDB(t))))
}

func sessionService(t *testing.T) *RecordService[domain.Session, *domain.Session, domain.SessionInput] {
	return NewRecordService(SessionKind, repo.Store[domain.Session](repo.NewGormStore[domain.Session](newTestDB(t))))
}

func taskService(t *testing.T) *RecordService[domain.Task, *domain.Task, domain.TaskInput] {
	return NewRecordService(TaskKind, repo.Store[domain.Task](repo.NewGormStore[domain.Task](newTestDB(t))))
}

// decode builds an input the way the HTTP layer does.
func decode[I any](t *testing.T, body string) I {
	t.Helper()
	var in I
	require.NoError(t, json.Unmarshal([]byte(body), &in))
	return in
}

func ts(s string) time.Time {
	t, err := domain.ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCreate_AssignsOwnerIDAndVersion(t *testing.T) {
	svc := moodService(t)
	ctx := context.Background()

	// A client-supplied owner is ignored.
	in := decode[domain.MoodInput](t, `{"date":"2025-01-01T10:00:00Z","mood":"happy","userId":"mallory"}`)
	rec, err := svc.Create(ctx, "alice", in)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "alice", rec.UserID)
	assert.EqualValues(t, 1, rec.Version)
	assert.Equal(t, domain.DefaultMoodIntensity, rec.Intensity)

	got, err := svc.Get(ctx, "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestCreate_UniqueIDs(t *testing.T) {
	svc := taskService(t)
	ids := map[string]bool{}
	for i := 0; i < 20; i++ {
		rec, err := svc.Create(context.Background(), "u1", decode[domain.TaskInput](t, `{"title":"t"}`))
		require.NoError(t, err)
		require.False(t, ids[rec.ID], "duplicate id %s", rec.ID)
		ids[rec.ID] = true
	}
}

func TestCreate_ValidationRejectsBeforeStore(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing date", `{"mood":"happy"}`},
		{"missing mood", `{"date":"2025-01-01"}`},
		{"bad enum", `{"date":"2025-01-01","mood":"ecstatic"}`},
		{"intensity too high", `{"date":"2025-01-01","mood":"sad","intensity":6}`},
		{"intensity too low", `{"date":"2025-01-01","mood":"sad","intensity":0}`},
		{"null intensity", `{"date":"2025-01-01","mood":"sad","intensity":null}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore[domain.Mood]{}
			svc := NewRecordService(MoodKind, repo.Store[domain.Mood](store))
			_, err := svc.Create(context.Background(), "u1", decode[domain.MoodInput](t, tc.body))
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Zero(t, store.inserts, "invalid input must not reach the store")
		})
	}
}

func TestCreate_SessionDefaultsAndRange(t *testing.T) {
	svc := sessionService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "u1", decode[domain.SessionInput](t, `{"date":"2025-02-01T09:30","doctor":" Dr. Who "}`))
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSessionDuration, rec.DurationMinutes)
	assert.Equal(t, domain.SessionPending, rec.Status)
	assert.Equal(t, "Dr. Who", rec.Doctor)

	_, err = svc.Create(ctx, "u1", decode[domain.SessionInput](t, `{"date":"2025-02-01","durationMinutes":10}`))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Create(ctx, "u1", decode[domain.SessionInput](t, `{"date":"2025-02-01","status":"done"}`))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreate_TextBoundedByColumnWidth(t *testing.T) {
	long := strings.Repeat("x", 256)
	cases := []struct {
		name  string
		owner string
		body  string
	}{
		{"doctor", "u1", `{"date":"2025-02-01","doctor":"` + long + `"}`},
		{"type", "u1", `{"date":"2025-02-01","type":"` + long + `"}`},
		{"owner", strings.Repeat("u", 65), `{"date":"2025-02-01"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore[domain.Session]{}
			svc := NewRecordService(SessionKind, repo.Store[domain.Session](store))
			_, err := svc.Create(context.Background(), tc.owner, decode[domain.SessionInput](t, tc.body))
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Zero(t, store.inserts)
		})
	}

	svc := sessionService(t)
	rec, err := svc.Create(context.Background(), "u1", decode[domain.SessionInput](t, `{"date":"2025-02-01","doctor":"`+long[:255]+`"}`))
	require.NoError(t, err)
	_, err = svc.Update(context.Background(), "u1", rec.ID, decode[domain.SessionInput](t, `{"type":"`+long+`"}`), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreate_TaskTitleRequired(t *testing.T) {
	svc := taskService(t)
	for _, body := range []string{`{}`, `{"title":"   "}`, `{"title":null}`} {
		_, err := svc.Create(context.Background(), "u1", decode[domain.TaskInput](t, body))
		assert.ErrorIs(t, err, ErrInvalidInput, body)
	}
}

func TestList_OwnerIsolation(t *testing.T) {
	svc := moodService(t)
	ctx := context.Background()
	for _, owner := range []string{"alice", "alice", "bob"} {
		_, err := svc.Create(ctx, owner, decode[domain.MoodInput](t, `{"date":"2025-01-01","mood":"neutral"}`))
		require.NoError(t, err)
	}

	got, err := svc.List(ctx, "alice", DateRange{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.Equal(t, "alice", m.UserID)
	}

	none, err := svc.List(ctx, "carol", DateRange{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestList_MoodsDescendingWithRange(t *testing.T) {
	svc := moodService(t)
	ctx := context.Background()
	for _, d := range []string{"2025-01-01T10:00:00Z", "2025-01-05T10:00:00Z", "2025-01-10T10:00:00Z"} {
		_, err := svc.Create(ctx, "u1", decode[domain.MoodInput](t, fmt.Sprintf(`{"date":%q,"mood":"happy"}`, d)))
		require.NoError(t, err)
	}

	from, to := ts("2025-01-02"), ts("2025-01-31")
	got, err := svc.List(ctx, "u1", DateRange{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Date.Equal(ts("2025-01-10T10:00:00Z")))
	assert.True(t, got[1].Date.Equal(ts("2025-01-05T10:00:00Z")))

	all, err := svc.List(ctx, "u1", DateRange{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Date.After(all[i-1].Date), "moods must be newest first")
	}

	// An inverted range simply matches nothing.
	empty, err := svc.List(ctx, "u1", DateRange{From: &to, To: &from})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestList_SessionsAscending(t *testing.T) {
	svc := sessionService(t)
	ctx := context.Background()
	for _, d := range []string{"2025-03-10", "2025-03-01", "2025-03-05"} {
		_, err := svc.Create(ctx, "u1", decode[domain.SessionInput](t, fmt.Sprintf(`{"date":%q}`, d)))
		require.NoError(t, err)
	}
	got, err := svc.List(ctx, "u1", DateRange{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Date.Equal(ts("2025-03-01")))
	assert.True(t, got[2].Date.Equal(ts("2025-03-10")))
}

func TestList_TasksIgnoreRange(t *testing.T) {
	svc := taskService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "u1", decode[domain.TaskInput](t, `{"title":"a"}`))
	require.NoError(t, err)

	from := ts("2999-01-01")
	got, err := svc.List(ctx, "u1", DateRange{From: &from})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestGet_NotFoundThenForbidden(t *testing.T) {
	svc := moodService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "alice", decode[domain.MoodInput](t, `{"date":"2025-01-01","mood":"sad"}`))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "alice", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, "bob", rec.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdate_MergesOnlyPresentFields(t *testing.T) {
	svc := moodService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "u1", decode[domain.MoodInput](t, `{"date":"2025-01-01","mood":"happy","intensity":4,"notes":"x"}`))
	require.NoError(t, err)

	up, err := svc.Update(ctx, "u1", rec.ID, decode[domain.MoodInput](t, `{"intensity":2}`), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, up.Intensity)
	assert.Equal(t, domain.MoodHappy, up.Mood)
	assert.Equal(t, "x", up.Notes)
	assert.True(t, up.Date.Equal(rec.Date))
	assert.EqualValues(t, 2, up.Version)

	// null clears optional text; zero is a real value and fails the range
	// check instead of being skipped.
	up, err = svc.Update(ctx, "u1", rec.ID, decode[domain.MoodInput](t, `{"notes":null}`), 0)
	require.NoError(t, err)
	assert.Empty(t, up.Notes)

	_, err = svc.Update(ctx, "u1", rec.ID, decode[domain.MoodInput](t, `{"intensity":0}`), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Update(ctx, "u1", rec.ID, decode[domain.MoodInput](t, `{"date":null}`), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	stored, err := svc.Get(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Intensity, "rejected update must leave the record untouched")
}

func TestUpdate_IgnoresClientOwner(t *testing.T) {
	svc := sessionService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "alice", decode[domain.SessionInput](t, `{"date":"2025-01-01"}`))
	require.NoError(t, err)

	up, err := svc.Update(ctx, "alice", rec.ID, decode[domain.SessionInput](t, `{"userId":"bob","status":"confirmed"}`), 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", up.UserID)
	assert.Equal(t, domain.SessionConfirmed, up.Status)
}

func TestUpdate_TaskFalseAndDeadline(t *testing.T) {
	svc := taskService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "u1", decode[domain.TaskInput](t, `{"title":"walk","completed":true,"deadline":"2025-05-01"}`))
	require.NoError(t, err)
	require.NotNil(t, rec.Deadline)

	up, err := svc.Update(ctx, "u1", rec.ID, decode[domain.TaskInput](t, `{"completed":false,"deadline":null,"description":""}`), 0)
	require.NoError(t, err)
	assert.False(t, up.Completed, "false must be applied")
	assert.Nil(t, up.Deadline)
	assert.Equal(t, "walk", up.Title)
}

func TestUpdate_TaskOwnershipEnforced(t *testing.T) {
	svc := taskService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "alice", decode[domain.TaskInput](t, `{"title":"mine"}`))
	require.NoError(t, err)

	_, err = svc.Update(ctx, "bob", rec.ID, decode[domain.TaskInput](t, `{"title":"stolen"}`), 0)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.Remove(ctx, "bob", rec.ID, 0), ErrForbidden)

	got, err := svc.Get(ctx, "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Title)
}

func TestUpdate_NotFound(t *testing.T) {
	svc := moodService(t)
	_, err := svc.Update(context.Background(), "u1", "nope", decode[domain.MoodInput](t, `{"mood":"sad"}`), 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_ExpectVersion(t *testing.T) {
	svc := moodService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "u1", decode[domain.MoodInput](t, `{"date":"2025-01-01","mood":"sad"}`))
	require.NoError(t, err)

	_, err = svc.Update(ctx, "u1", rec.ID, decode[domain.MoodInput](t, `{"mood":"happy"}`), 7)
	assert.ErrorIs(t, err, ErrConflict)

	up, err := svc.Update(ctx, "u1", rec.ID, decode[domain.MoodInput](t, `{"mood":"happy"}`), 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, up.Version)

	assert.ErrorIs(t, svc.Remove(ctx, "u1", rec.ID, 1), ErrConflict)
	require.NoError(t, svc.Remove(ctx, "u1", rec.ID, 2))
}

func TestUpdate_ConcurrentWritersOneLoses(t *testing.T) {
	// Both writers read version 1 before either saves. A WAL file database
	// with busy_timeout serializes the two UPDATEs.
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "race.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))
	store := &racingStore{Store: repo.NewGormStore[domain.Task](db)}
	svc := NewRecordService(TaskKind, repo.Store[domain.Task](store))
	ctx := context.Background()
	rec, err := svc.Create(ctx, "u1", decode[domain.TaskInput](t, `{"title":"a"}`))
	require.NoError(t, err)

	store.gate = make(chan struct{})
	store.reads.Add(2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	inputs := []domain.TaskInput{
		decode[domain.TaskInput](t, `{"title":"x"}`),
		decode[domain.TaskInput](t, `{"title":"y"}`),
	}
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in domain.TaskInput) {
			defer wg.Done()
			_, errs[i] = svc.Update(ctx, "u1", rec.ID, in, 0)
		}(i, in)
	}
	store.reads.Wait()
	close(store.gate)
	wg.Wait()
	store.gate = nil

	var ok, conflicts int
	for _, e := range errs {
		switch {
		case e == nil:
			ok++
		case errors.Is(e, ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	got, err := svc.Get(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version)
}

func TestRemove_NotFoundForbiddenAndDelete(t *testing.T) {
	svc := sessionService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "alice", decode[domain.SessionInput](t, `{"date":"2025-01-01"}`))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Remove(ctx, "alice", "missing", 0), ErrNotFound)
	assert.ErrorIs(t, svc.Remove(ctx, "bob", rec.ID, 0), ErrForbidden)
	require.NoError(t, svc.Remove(ctx, "alice", rec.ID, 0))

	_, err = svc.Get(ctx, "alice", rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Remove(ctx, "alice", rec.ID, 0), ErrNotFound)
}

func TestStoreFailureIsWrapped(t *testing.T) {
	boom := errors.New("disk on fire")
	store := &fakeStore[domain.Mood]{err: boom}
	svc := NewRecordService(MoodKind, repo.Store[domain.Mood](store))
	ctx := context.Background()

	_, err := svc.List(ctx, "u1", DateRange{})
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, boom)

	_, err = svc.Get(ctx, "u1", "x")
	assert.ErrorIs(t, err, ErrStoreFailure)

	_, err = svc.Create(ctx, "u1", decode[domain.MoodInput](t, `{"date":"2025-01-01","mood":"sad"}`))
	assert.ErrorIs(t, err, ErrStoreFailure)
}

func TestMetrics_CountOutcomes(t *testing.T) {
	svc := taskService(t)
	ctx := context.Background()
	before := testutil.ToFloat64(recordOps.WithLabelValues("task", "get", "not_found"))

	_, err := svc.Get(ctx, "u1", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	after := testutil.ToFloat64(recordOps.WithLabelValues("task", "get", "not_found"))
	assert.Equal(t, before+1, after)
}

// ----- fakes -----

type fakeStore[T any] struct {
	err     error
	inserts int
}

func (f *fakeStore[T]) Find(context.Context, repo.Query) ([]T, error) { return nil, f.err }
func (f *fakeStore[T]) Get(context.Context, string) (*T, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, repo.ErrNotFound
}
func (f *fakeStore[T]) Insert(context.Context, *T) error      { f.inserts++; return f.err }
func (f *fakeStore[T]) Save(context.Context, *T, int64) error { return f.err }
func (f *fakeStore[T]) Delete(context.Context, string) error  { return f.err }

// racingStore holds both readers until each has fetched the record.
type racingStore struct {
	repo.Store[domain.Task]
	gate  chan struct{}
	reads sync.WaitGroup
}

func (r *racingStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	rec, err := r.Store.Get(ctx, id)
	if r.gate != nil {
		r.reads.Done()
		<-r.gate
	}
	return rec, err
}
