// Package services – RecordService
//
// This file implements RecordService, the generic application-level
// component that owns the lifecycle of owner-scoped records. Every
// operation receives the authenticated owner explicitly; the service
// defaults and merges payloads, validates the result, enforces ownership
// on single-record access, and guards updates with a version
// compare-and-set so concurrent writers cannot silently overwrite each
// other.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// carry kind, owner and record identifiers. Outcomes are counted in the
// record_operations_total Prometheus counter.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tbourn/go-wellness-backend/internal/domain"
	"github.com/tbourn/go-wellness-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DateRange bounds a list on the kind's time field. Nil bounds are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// RecordService provides List/Create/Get/Update/Remove for one kind.
type RecordService[T any, PT interface {
	*T
	domain.Record
}, I any] struct {
	Kind  Kind[T, I]
	Store repo.Store[T]

	// NewID generates record ids; defaults to UUIDv4.
	NewID func() string

	validate *validator.Validate
}

// NewRecordService wires a kind to its store.
func NewRecordService[T any, PT interface {
	*T
	domain.Record
}, I any](kind Kind[T, I], store repo.Store[T]) *RecordService[T, PT, I] {
	return &RecordService[T, PT, I]{
		Kind:     kind,
		Store:    store,
		NewID:    uuid.NewString,
		validate: newValidator(),
	}
}

func (s *RecordService[T, PT, I]) start(ctx context.Context, op, ownerID, id string) (context.Context, trace.Span) {
	tr := otel.Tracer("services/RecordService")
	attrs := []attribute.KeyValue{
		attribute.String("record.kind", s.Kind.Name),
		attribute.String("user.id", ownerID),
	}
	if id != "" {
		attrs = append(attrs, attribute.String("record.id", id))
	}
	return tr.Start(ctx, op, trace.WithAttributes(attrs...))
}

func (s *RecordService[T, PT, I]) finish(span trace.Span, op string, err error) {
	out := outcome(err)
	span.SetAttributes(attribute.String("outcome", out))
	recordOps.WithLabelValues(s.Kind.Name, op, out).Inc()
	span.End()
}

// List returns the owner's records. The range applies only to kinds with a
// time field; the result is never nil.
func (s *RecordService[T, PT, I]) List(ctx context.Context, ownerID string, r DateRange) (out []T, err error) {
	ctx, span := s.start(ctx, "List", ownerID, "")
	defer func() { s.finish(span, "list", err) }()

	q := repo.Query{OwnerID: ownerID, TimeField: s.Kind.TimeField, Order: s.Kind.Order}
	if q.TimeField != "" {
		q.From, q.To = r.From, r.To
	}
	out, err = s.Store.Find(ctx, q)
	if err != nil {
		return nil, storeFailure(err)
	}
	if out == nil {
		out = make([]T, 0)
	}
	return out, nil
}

// Create defaults, merges and validates in, then persists a new record owned
// by ownerID. Invalid input never reaches the store.
func (s *RecordService[T, PT, I]) Create(ctx context.Context, ownerID string, in I) (rec *T, err error) {
	ctx, span := s.start(ctx, "Create", ownerID, "")
	defer func() { s.finish(span, "create", err) }()

	rec = s.Kind.New()
	if err := s.Kind.Merge(rec, in); err != nil {
		return nil, err
	}
	meta := PT(rec).Meta()
	meta.ID = s.NewID()
	meta.UserID = ownerID
	if err := s.check(rec); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("record.id", meta.ID))

	if err := s.Store.Insert(ctx, rec); err != nil {
		return nil, storeFailure(err)
	}
	return rec, nil
}

// Get returns a record the owner may read: ErrNotFound first, then
// ErrForbidden.
func (s *RecordService[T, PT, I]) Get(ctx context.Context, ownerID, id string) (rec *T, err error) {
	ctx, span := s.start(ctx, "Get", ownerID, id)
	defer func() { s.finish(span, "get", err) }()

	return s.fetchOwned(ctx, ownerID, id)
}

// Update merges the fields present in in onto the stored record. A positive
// expectVersion must equal the stored version. The write itself is a
// compare-and-set on the version that was read, so a concurrent writer that
// saves first turns this call into ErrConflict.
func (s *RecordService[T, PT, I]) Update(ctx context.Context, ownerID, id string, in I, expectVersion int64) (rec *T, err error) {
	ctx, span := s.start(ctx, "Update", ownerID, id)
	defer func() { s.finish(span, "update", err) }()

	rec, err = s.fetchOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	meta := PT(rec).Meta()
	prev := meta.Version
	if expectVersion > 0 && expectVersion != prev {
		return nil, ErrConflict
	}

	if err := s.Kind.Merge(rec, in); err != nil {
		return nil, err
	}
	if err := s.check(rec); err != nil {
		return nil, err
	}

	if err := s.Store.Save(ctx, rec, prev); err != nil {
		switch {
		case errors.Is(err, repo.ErrVersionConflict):
			return nil, ErrConflict
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrNotFound
		default:
			return nil, storeFailure(err)
		}
	}
	return rec, nil
}

// Remove permanently deletes an owned record, with the same existence,
// ownership and version checks as Update.
func (s *RecordService[T, PT, I]) Remove(ctx context.Context, ownerID, id string, expectVersion int64) (err error) {
	ctx, span := s.start(ctx, "Remove", ownerID, id)
	defer func() { s.finish(span, "remove", err) }()

	rec, err := s.fetchOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if expectVersion > 0 && expectVersion != PT(rec).Meta().Version {
		return ErrConflict
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return storeFailure(err)
	}
	return nil
}

func (s *RecordService[T, PT, I]) fetchOwned(ctx context.Context, ownerID, id string) (*T, error) {
	rec, err := s.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeFailure(err)
	}
	if PT(rec).Meta().UserID != ownerID {
		return nil, ErrForbidden
	}
	return rec, nil
}

// check runs struct-tag validation then the kind's own rules.
func (s *RecordService[T, PT, I]) check(rec *T) error {
	if err := validateStruct(s.validate, rec); err != nil {
		return err
	}
	if s.Kind.Validate != nil {
		return s.Kind.Validate(rec)
	}
	return nil
}
