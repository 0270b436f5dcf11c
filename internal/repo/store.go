// Package repo implements the data persistence layer for domain entities.
// This file defines the storage contract shared by the GORM and MongoDB
// backends.
//
// A Store is a thin collection of owner-scoped records: it knows how to
// filter by owner and time range, sort, and persist with a version
// compare-and-set. It never enforces ownership on single-record access;
// that check belongs to the service layer, which needs to tell "missing"
// apart from "not yours".
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so callers can match either name.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrVersionConflict is returned by Save when the stored version no longer
// matches the version the caller read.
var ErrVersionConflict = errors.New("version conflict")

// SortOrder is the direction of the time ordering of Find results.
type SortOrder int

const (
	SortAsc SortOrder = iota
	SortDesc
)

func (o SortOrder) String() string {
	if o == SortDesc {
		return "desc"
	}
	return "asc"
}

// Query selects the records of one owner.
//
// TimeField names the timestamp field (JSON/BSON spelling, e.g. "date")
// used for both range filtering and ordering. When it is empty the range is
// ignored and results are ordered by creation time. Bounds are inclusive and
// a nil bound is not applied. Ties are always broken by id.
type Query struct {
	OwnerID   string
	TimeField string
	From      *time.Time
	To        *time.Time
	Order     SortOrder
}

// Store is the persistence contract for one record kind.
type Store[T any] interface {
	// Find returns the owner's records matching q; never nil on success.
	Find(ctx context.Context, q Query) ([]T, error)
	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*T, error)
	// Insert persists a new record. The store sets Version to 1 and fills
	// zero CreatedAt/UpdatedAt with the current UTC time.
	Insert(ctx context.Context, rec *T) error
	// Save replaces a record only if its stored version equals prevVersion.
	// On success rec.Version is prevVersion+1 and UpdatedAt is refreshed.
	// Returns ErrVersionConflict when another writer saved first and
	// ErrNotFound when the record is gone.
	Save(ctx context.Context, rec *T, prevVersion int64) error
	// Delete permanently removes the record or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}
