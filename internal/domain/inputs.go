package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MoodInput is the client payload for creating or updating a mood entry.
// OccurredAt is accepted as an alias of Date; Date wins when both are sent.
// There is no owner field: ownership comes from the principal.
type MoodInput struct {
	Date       Optional[Timestamp] `json:"date"       swaggertype:"string" example:"2025-01-01T10:00:00Z"`
	OccurredAt Optional[Timestamp] `json:"occurredAt" swaggertype:"string"`
	Mood       Optional[string]    `json:"mood"       swaggertype:"string" enums:"happy,neutral,sad,anxious,stressed"`
	Intensity  Optional[int]       `json:"intensity"  swaggertype:"integer" minimum:"1" maximum:"5"`
	Notes      Optional[string]    `json:"notes"      swaggertype:"string"`
}

// When returns the timestamp field the client used, preferring Date.
func (in MoodInput) When() Optional[Timestamp] {
	if in.Date.Set {
		return in.Date
	}
	return in.OccurredAt
}

// SessionInput is the client payload for creating or updating a session.
type SessionInput struct {
	Date            Optional[Timestamp] `json:"date"            swaggertype:"string" example:"2025-01-01T10:00:00Z"`
	OccurredAt      Optional[Timestamp] `json:"occurredAt"      swaggertype:"string"`
	DurationMinutes Optional[int]       `json:"durationMinutes" swaggertype:"integer" minimum:"15" maximum:"240"`
	Type            Optional[string]    `json:"type"            swaggertype:"string" example:"counselling"`
	Status          Optional[string]    `json:"status"          swaggertype:"string" enums:"pending,confirmed,cancelled,completed"`
	Notes           Optional[string]    `json:"notes"           swaggertype:"string"`
	Doctor          Optional[string]    `json:"doctor"          swaggertype:"string"`
}

// When returns the timestamp field the client used, preferring Date.
func (in SessionInput) When() Optional[Timestamp] {
	if in.Date.Set {
		return in.Date
	}
	return in.OccurredAt
}

// TaskInput is the client payload for creating or updating a task.
type TaskInput struct {
	Title       Optional[string]    `json:"title"       swaggertype:"string" example:"Journal for 10 minutes"`
	Description Optional[string]    `json:"description" swaggertype:"string"`
	Completed   Optional[bool]      `json:"completed"   swaggertype:"boolean"`
	Deadline    Optional[Timestamp] `json:"deadline"    swaggertype:"string"`
}

// CleanText trims surrounding whitespace and applies Unicode NFC so that
// visually identical notes compare equal.
func CleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
