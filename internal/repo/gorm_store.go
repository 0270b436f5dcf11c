package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/tbourn/go-wellness-backend/internal/domain"
)

// GormStore is a Store backed by a GORM handle. It works with any dialect
// registered in Open (SQLite, PostgreSQL, MySQL).
//
// PT is the pointer type of T and must expose the shared Owned block.
type GormStore[T any, PT interface {
	*T
	domain.Record
}] struct {
	db *gorm.DB
}

// NewGormStore returns a store for the table T maps to.
func NewGormStore[T any, PT interface {
	*T
	domain.Record
}](db *gorm.DB) *GormStore[T, PT] {
	return &GormStore[T, PT]{db: db}
}

// column maps a JSON/BSON field name ("createdAt") to the column GORM
// derived for it ("created_at").
func (s *GormStore[T, PT]) column(field string) string {
	if ns := s.db.NamingStrategy; ns != nil {
		return ns.ColumnName("", field)
	}
	return schema.NamingStrategy{}.ColumnName("", field)
}

// Find returns the owner's records filtered and ordered according to q.
func (s *GormStore[T, PT]) Find(ctx context.Context, q Query) ([]T, error) {
	tx := s.db.WithContext(ctx).Where("user_id = ?", q.OwnerID)

	orderCol := "created_at"
	if q.TimeField != "" {
		orderCol = s.column(q.TimeField)
		if q.From != nil {
			tx = tx.Where(clause.Gte{Column: clause.Column{Name: orderCol}, Value: q.From.UTC()})
		}
		if q.To != nil {
			tx = tx.Where(clause.Lte{Column: clause.Column{Name: orderCol}, Value: q.To.UTC()})
		}
	}

	out := make([]T, 0)
	err := tx.
		Order(clause.OrderByColumn{Column: clause.Column{Name: orderCol}, Desc: q.Order == SortDesc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches a record by primary key regardless of owner.
func (s *GormStore[T, PT]) Get(ctx context.Context, id string) (*T, error) {
	var rec T
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Insert creates the row with Version 1.
func (s *GormStore[T, PT]) Insert(ctx context.Context, rec *T) error {
	meta := PT(rec).Meta()
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.CreatedAt
	}
	meta.Version = 1
	return s.db.WithContext(ctx).Create(rec).Error
}

// Save writes every mutable column with a compare-and-set on version.
// id, user_id and created_at are never rewritten.
func (s *GormStore[T, PT]) Save(ctx context.Context, rec *T, prevVersion int64) error {
	meta := PT(rec).Meta()
	meta.Version = prevVersion + 1
	meta.UpdatedAt = time.Now().UTC()

	res := s.db.WithContext(ctx).
		Model(rec).
		Where("version = ?", prevVersion).
		Select("*").
		Omit("id", "user_id", "created_at").
		Updates(rec)
	if res.Error != nil {
		meta.Version = prevVersion
		return res.Error
	}
	if res.RowsAffected == 0 {
		meta.Version = prevVersion
		if _, err := s.Get(ctx, meta.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// Delete removes the row permanently.
func (s *GormStore[T, PT]) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(PT(new(T)))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

var (
	_ Store[domain.Mood]    = (*GormStore[domain.Mood, *domain.Mood])(nil)
	_ Store[domain.Session] = (*GormStore[domain.Session, *domain.Session])(nil)
	_ Store[domain.Task]    = (*GormStore[domain.Task, *domain.Task])(nil)
)
