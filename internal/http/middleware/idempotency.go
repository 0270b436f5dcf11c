package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's key for a create. Keys are scoped
// per owner and per collection: the same key sent to /moods and /tasks names
// two different operations.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on a response served from a
// stored create rather than a new write.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdempotencyKeyLen = 200
)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := asString(c.Value(ctxKeyIdemKey))
	return s, s != ""
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length (default 200). Keys may only use
	// [A-Za-z0-9._~:-].
	MaxLen int
	// Scope names the collection a request targets (default ScopeFromRoute).
	Scope func(*gin.Context) string
}

// ScopeFromRoute derives the collection from the matched route: the last
// static segment of c.FullPath(), so "/api/moods/:id" yields "moods".
func ScopeFromRoute(c *gin.Context) string {
	segs := strings.Split(strings.Trim(c.FullPath(), "/"), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if s := segs[i]; s != "" && s[0] != ':' && s[0] != '*' {
			return s
		}
	}
	return ""
}

// IdempotencyLookup reports whether an unexpired create is stored for
// (userID, scope, key). An error is treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error)

// IdempotencyValidator rejects malformed Idempotency-Key headers with 400 and
// stashes valid ones for the handler. A create whose key is already stored
// will be answered from the store, so it is flagged to skip rate limiting.
// Requests without the header pass through untouched.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdempotencyKeyLen
	}
	scopeOf := opts.Scope
	if scopeOf == nil {
		scopeOf = ScopeFromRoute
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if !validToken(key, maxLen) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		// Updates and deletes are guarded by If-Match, not by keys.
		uid := asString(c.Value(UserIDKey))
		scope := scopeOf(c)
		if lookup == nil || c.Request.Method != http.MethodPost || uid == "" || scope == "" {
			c.Next()
			return
		}

		hit, err := lookup(c.Request.Context(), uid, scope, key, time.Now().UTC())
		switch {
		case err != nil:
			LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
		case hit:
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}
