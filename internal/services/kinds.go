// Package services – record kinds
//
// A Kind describes one record type to the generic RecordService: how new
// records are defaulted, how a client payload is merged into a stored
// record, and how lists are filtered and ordered.
//
// Merge policy (explicit presence, identical for every kind):
//   - an absent field leaves the stored value untouched;
//   - null on an optional text field clears it, null on the task deadline
//     removes it;
//   - null on a required or defaulted field is invalid input;
//   - an owner sent by the client is never read.
package services

import (
	"time"

	"github.com/tbourn/go-wellness-backend/internal/domain"
	"github.com/tbourn/go-wellness-backend/internal/repo"
)

// Kind parameterizes RecordService for entity T and its input payload I.
type Kind[T any, I any] struct {
	// Name is the singular lowercase name used in spans and metrics.
	Name string
	// Label is the capitalized name used in client-facing messages.
	Label string
	// Collection is the plural resource name (route segment, idempotency scope).
	Collection string
	// TimeField is the JSON/BSON field used for range filtering and ordering.
	// Empty disables range filtering; lists then follow creation order.
	TimeField string
	// Order is the list direction on TimeField.
	Order repo.SortOrder

	New      func() *T
	Merge    func(rec *T, in I) error
	Validate func(rec *T) error
}

// MoodKind describes mood entries: newest first, filterable by date.
var MoodKind = Kind[domain.Mood, domain.MoodInput]{
	Name:       "mood",
	Label:      "Mood",
	Collection: "moods",
	TimeField:  "date",
	Order:      repo.SortDesc,
	New: func() *domain.Mood {
		return &domain.Mood{Intensity: domain.DefaultMoodIntensity}
	},
	Merge: func(rec *domain.Mood, in domain.MoodInput) error {
		if err := setTime(&rec.Date, in.When(), "date"); err != nil {
			return err
		}
		if err := setClean(&rec.Mood, in.Mood, "mood"); err != nil {
			return err
		}
		if err := setRequired(&rec.Intensity, in.Intensity, "intensity"); err != nil {
			return err
		}
		setText(&rec.Notes, in.Notes)
		return nil
	},
	Validate: func(rec *domain.Mood) error {
		if rec.Date.IsZero() {
			return invalidf("date is required")
		}
		return nil
	},
}

// SessionKind describes therapy sessions: soonest first, filterable by date.
var SessionKind = Kind[domain.Session, domain.SessionInput]{
	Name:       "session",
	Label:      "Session",
	Collection: "sessions",
	TimeField:  "date",
	Order:      repo.SortAsc,
	New: func() *domain.Session {
		return &domain.Session{
			DurationMinutes: domain.DefaultSessionDuration,
			Status:          domain.DefaultSessionStatus,
		}
	},
	Merge: func(rec *domain.Session, in domain.SessionInput) error {
		if err := setTime(&rec.Date, in.When(), "date"); err != nil {
			return err
		}
		if err := setRequired(&rec.DurationMinutes, in.DurationMinutes, "durationMinutes"); err != nil {
			return err
		}
		if err := setClean(&rec.Status, in.Status, "status"); err != nil {
			return err
		}
		setText(&rec.Type, in.Type)
		setText(&rec.Notes, in.Notes)
		setText(&rec.Doctor, in.Doctor)
		return nil
	},
	Validate: func(rec *domain.Session) error {
		if rec.Date.IsZero() {
			return invalidf("date is required")
		}
		return nil
	},
}

// TaskKind describes to-do items. Tasks have no time filter and are listed
// in creation order.
var TaskKind = Kind[domain.Task, domain.TaskInput]{
	Name:       "task",
	Label:      "Task",
	Collection: "tasks",
	Order:      repo.SortAsc,
	New: func() *domain.Task {
		return &domain.Task{}
	},
	Merge: func(rec *domain.Task, in domain.TaskInput) error {
		if err := setClean(&rec.Title, in.Title, "title"); err != nil {
			return err
		}
		setText(&rec.Description, in.Description)
		if err := setRequired(&rec.Completed, in.Completed, "completed"); err != nil {
			return err
		}
		if in.Deadline.Set {
			if in.Deadline.Null {
				rec.Deadline = nil
			} else {
				d := in.Deadline.Value.Time
				rec.Deadline = &d
			}
		}
		return nil
	},
	Validate: func(rec *domain.Task) error {
		if rec.Title == "" {
			return invalidf("title is required")
		}
		return nil
	},
}

func setRequired[T any](dst *T, o domain.Optional[T], field string) error {
	if !o.Set {
		return nil
	}
	if o.Null {
		return invalidf("%s cannot be null", field)
	}
	*dst = o.Value
	return nil
}

func setClean(dst *string, o domain.Optional[string], field string) error {
	if !o.Set {
		return nil
	}
	if o.Null {
		return invalidf("%s cannot be null", field)
	}
	*dst = domain.CleanText(o.Value)
	return nil
}

func setTime(dst *time.Time, o domain.Optional[domain.Timestamp], field string) error {
	if !o.Set {
		return nil
	}
	if o.Null {
		return invalidf("%s cannot be null", field)
	}
	*dst = o.Value.UTC()
	return nil
}

func setText(dst *string, o domain.Optional[string]) {
	if !o.Set {
		return
	}
	if o.Null {
		*dst = ""
		return
	}
	*dst = domain.CleanText(o.Value)
}
