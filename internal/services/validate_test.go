package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tbourn/go-wellness-backend/internal/domain"
)

func TestValidateStruct_ReportsJSONFieldNames(t *testing.T) {
	v := newValidator()

	err := validateStruct(v, &domain.Session{Owned: domain.Owned{UserID: "u1"}, DurationMinutes: 5, Status: "later"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "durationMinutes must be at least 15")
	assert.Contains(t, err.Error(), "status must be one of [pending confirmed cancelled completed]")

	err = validateStruct(v, &domain.Task{Title: "ok"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "userId is required")

	assert.NoError(t, validateStruct(v, &domain.Task{Owned: domain.Owned{UserID: "u1"}, Title: "ok"}))
}

func TestOutcomeLabels(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "invalid_input", outcome(invalidf("x")))
	assert.Equal(t, "not_found", outcome(ErrNotFound))
	assert.Equal(t, "forbidden", outcome(ErrForbidden))
	assert.Equal(t, "conflict", outcome(ErrConflict))
	assert.Equal(t, "store_failure", outcome(storeFailure(assert.AnError)))
}
