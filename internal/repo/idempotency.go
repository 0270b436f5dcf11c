// Package repo implements the data persistence layer for domain entities.
// This file provides the Idempotency store used to implement safe-retry
// semantics for POST endpoints.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wellness-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (user_id, scope, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// IdempotencyStore remembers which record a keyed create produced.
type IdempotencyStore interface {
	// Get returns a non-expired record or ErrNotFound.
	Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error)
	// Put inserts a record and returns ErrDuplicate on unique violation.
	Put(ctx context.Context, userID, scope, key, recordID string, status int, ttl time.Duration) (*domain.Idempotency, error)
	// Delete forgets a key so it can be bound again. Missing keys are not an error.
	Delete(ctx context.Context, userID, scope, key string) error
}

// GormIdempotency is the SQL implementation of IdempotencyStore.
type GormIdempotency struct {
	db *gorm.DB
}

// NewGormIdempotency wraps db.
func NewGormIdempotency(db *gorm.DB) *GormIdempotency { return &GormIdempotency{db: db} }

// Get looks the key up within scope. Expired rows are treated as missing,
// and so is any lookup with a blank component.
func (s *GormIdempotency) Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	// Struct conditions let GORM quote "key", which is reserved in MySQL.
	err := s.db.WithContext(ctx).
		Where(&domain.Idempotency{UserID: userID, Scope: scope, Key: key}).
		Where("expires_at > ?", now.UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put records the outcome of a keyed create.
func (s *GormIdempotency) Put(ctx context.Context, userID, scope, key, recordID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
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
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// Delete removes the key for (userID, scope).
func (s *GormIdempotency) Delete(ctx context.Context, userID, scope, key string) error {
	return s.db.WithContext(ctx).
		Where(&domain.Idempotency{UserID: userID, Scope: scope, Key: key}).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpired deletes rows whose TTL elapsed before now.
func (s *GormIdempotency) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation recognizes duplicate-key errors across dialects.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") || // postgres
		strings.Contains(low, "duplicate entry") // mysql
}

var _ IdempotencyStore = (*GormIdempotency)(nil)
