// Package handlers implements the record endpoints and the JSON envelopes
// they share. Every failure is answered with an ErrorResponse:
//
//	HTTP/1.1 404 Not Found
//	{"request_id": "123e4567-...", "code": "not_found", "message": "Mood not found"}
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wellness-backend/internal/http/middleware"
	"github.com/tbourn/go-wellness-backend/internal/services"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching a client error to server logs
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message, safe to show to users
	Message string `json:"message" example:"Mood not found"`
}

// MessageResponse is the body of a successful delete.
type MessageResponse struct {
	Message string `json:"message" example:"Mood deleted"`
}

// Fail aborts the request with the error envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg, nil) }

// fail writes the envelope. Server errors are logged with their cause, which
// never reaches the client.
func fail(c *gin.Context, status int, code, msg string, cause error) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().Int("status", status).Str("code", code)
		if cause != nil {
			ev = ev.Err(cause)
		}
		ev.Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// serviceErrors maps service sentinels to responses, in match order.
var serviceErrors = []struct {
	target error
	status int
	code   string
	msg    func(label string, err error) string
}{
	{services.ErrInvalidInput, http.StatusBadRequest, ErrCodeBadRequest,
		func(_ string, err error) string { return err.Error() }},
	{services.ErrNotFound, http.StatusNotFound, ErrCodeNotFound,
		func(label string, _ error) string { return label + " not found" }},
	{services.ErrForbidden, http.StatusForbidden, ErrCodeForbidden,
		func(string, error) string { return "Not authorized" }},
	{services.ErrConflict, http.StatusPreconditionFailed, ErrCodePreconditionFailed,
		func(label string, _ error) string { return label + " was modified by another request" }},
}

// failService answers a service error. label is the record kind used in
// messages ("Mood"). Anything unrecognized is a 500.
func failService(c *gin.Context, label string, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			fail(c, m.status, m.code, m.msg(label, err), nil)
			return
		}
	}
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error", err)
}

// etag renders a record version as a strong entity tag.
func etag(version int64) string {
	return strconv.Quote(strconv.FormatInt(version, 10))
}

// parseIfMatch reads the expected version from If-Match. An absent header
// or "*" means no expectation (0). Weak tags are accepted.
func parseIfMatch(h string) (int64, bool) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return 0, true
	}
	h = strings.Trim(strings.TrimPrefix(h, "W/"), `"`)
	v, err := strconv.ParseInt(h, 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
