package client

import "time"

// Meta is the server-managed part of every record.
type Meta struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Mood is a mood journal entry.
type Mood struct {
	Meta
	Date      time.Time `json:"date"`
	Mood      string    `json:"mood"`
	Intensity int       `json:"intensity"`
	Notes     string    `json:"notes,omitempty"`
}

// Session is a scheduled or past therapy session.
type Session struct {
	Meta
	Date            time.Time `json:"date"`
	DurationMinutes int       `json:"durationMinutes"`
	Type            string    `json:"type,omitempty"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	Doctor          string    `json:"doctor,omitempty"`
}

// Task is a to-do item.
type Task struct {
	Meta
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Inputs carry only the fields to send; nil fields are omitted, so an update
// leaves them unchanged on the server.

// MoodInput creates or updates a mood entry.
type MoodInput struct {
	Date      *time.Time `json:"date,omitempty"`
	Mood      *string    `json:"mood,omitempty"`
	Intensity *int       `json:"intensity,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

// SessionInput creates or updates a session.
type SessionInput struct {
	Date            *time.Time `json:"date,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	Type            *string    `json:"type,omitempty"`
	Status          *string    `json:"status,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	Doctor          *string    `json:"doctor,omitempty"`
}

// TaskInput creates or updates a task.
type TaskInput struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Ptr returns a pointer to v, for filling inputs inline.
func Ptr[T any](v T) *T { return &v }
