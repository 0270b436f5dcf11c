// Package domain defines the persistence models for moods, therapy sessions
// and tasks. These types are mapped with GORM (SQL drivers) and BSON (MongoDB)
// and form the core data layer of the wellness tracker.
package domain

import (
	"time"
)

// Mood values accepted by Mood.Mood.
const (
	MoodHappy    = "happy"
	MoodNeutral  = "neutral"
	MoodSad      = "sad"
	MoodAnxious  = "anxious"
	MoodStressed = "stressed"
)

// Session status values accepted by Session.Status.
const (
	SessionPending   = "pending"
	SessionConfirmed = "confirmed"
	SessionCancelled = "cancelled"
	SessionCompleted = "completed"
)

// Schema defaults applied on create when the client omits the field.
const (
	DefaultMoodIntensity   = 3
	DefaultSessionDuration = 60
	DefaultSessionStatus   = SessionPending
)

// Record is implemented by every owner-scoped entity through its embedded
// Owned block. The record store only touches identity, ownership and
// versioning through this accessor.
type Record interface {
	Meta() *Owned
}

// Owned carries the fields shared by every owner-scoped record.
//
// Fields:
//   - ID: UUID primary key assigned at creation (char(36)); immutable.
//   - UserID: identifier of the owning principal; immutable after creation.
//   - Version: optimistic-concurrency token, 1 on insert and incremented by
//     every successful update.
//   - CreatedAt / UpdatedAt: set by the store layer in UTC.
type Owned struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"  bson:"_id"`
	UserID    string    `json:"userId"    gorm:"type:varchar(64);not null;index" bson:"userId" validate:"required,max=64"`
	Version   int64     `json:"version"   gorm:"not null;default:1"        bson:"version"`
	CreatedAt time.Time `json:"createdAt"                                  bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"                                  bson:"updatedAt"`
}

// Meta returns the shared ownership block.
func (o *Owned) Meta() *Owned { return o }

// Mood is a single mood log entry.
type Mood struct {
	Owned     `bson:",inline"`
	Date      time.Time `json:"date"            gorm:"not null;index"              bson:"date"`
	Mood      string    `json:"mood"            gorm:"type:varchar(16);not null"   bson:"mood"      validate:"required,oneof=happy neutral sad anxious stressed"`
	Intensity int       `json:"intensity"       gorm:"not null;default:3"          bson:"intensity" validate:"min=1,max=5"`
	Notes     string    `json:"notes,omitempty" gorm:"type:text"                   bson:"notes,omitempty"`
}

// TableName returns the database table name for Mood.
func (Mood) TableName() string { return "moods" }

// Session is a scheduled therapy session. Status is a plain owner-settable
// field; no transition rules are enforced.
type Session struct {
	Owned           `bson:",inline"`
	Date            time.Time `json:"date"             gorm:"not null;index"               bson:"date"`
	DurationMinutes int       `json:"durationMinutes"  gorm:"not null;default:60"          bson:"durationMinutes" validate:"min=15,max=240"`
	Type            string    `json:"type,omitempty"   gorm:"type:varchar(255)"            bson:"type,omitempty"   validate:"max=255"`
	Status          string    `json:"status"           gorm:"type:varchar(16);not null;default:'pending'" bson:"status" validate:"required,oneof=pending confirmed cancelled completed"`
	Notes           string    `json:"notes,omitempty"  gorm:"type:text"                    bson:"notes,omitempty"`
	Doctor          string    `json:"doctor,omitempty" gorm:"type:varchar(255)"            bson:"doctor,omitempty" validate:"max=255"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Task is a personal to-do item.
type Task struct {
	Owned       `bson:",inline"`
	Title       string     `json:"title"                 gorm:"type:varchar(255);not null" bson:"title"       validate:"required,max=255"`
	Description string     `json:"description,omitempty" gorm:"type:text"                  bson:"description,omitempty"`
	Completed   bool       `json:"completed"             gorm:"not null;default:false"     bson:"completed"`
	Deadline    *time.Time `json:"deadline,omitempty"                                      bson:"deadline,omitempty"`
}

// TableName returns the database table name for Task.
func (Task) TableName() string { return "tasks" }
