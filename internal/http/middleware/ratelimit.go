package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to the identity whose bucket it draws from.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys by the authenticated owner ("user:<id>"), falling back
// to the client address ("ip:<addr>") before authentication has run.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := asString(c.Value(UserIDKey)); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimitOptions configures NewRateLimiter.
type RateLimitOptions struct {
	RPS   float64 // refill rate; 0 admits only the initial burst
	Burst int     // bucket size, at least 1
	// WriteCost is the number of tokens a POST, PUT, PATCH or DELETE takes.
	// Reads always take one. Clamped to [1, Burst].
	WriteCost int
	// IdleTTL evicts buckets not used for this long (default 10m).
	IdleTTL time.Duration
	Key     KeyFunc
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per identity. Idempotent
// replays flagged by IdempotencyValidator are never charged.
type RateLimiter struct {
	rps       rate.Limit
	burst     int
	writeCost int
	ttl       time.Duration
	key       KeyFunc
	now       func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter builds a limiter from opts.
func NewRateLimiter(opts RateLimitOptions) *RateLimiter {
	rl := &RateLimiter{
		rps:       rate.Limit(opts.RPS),
		burst:     max(opts.Burst, 1),
		writeCost: opts.WriteCost,
		ttl:       opts.IdleTTL,
		key:       opts.Key,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
	rl.writeCost = min(max(rl.writeCost, 1), rl.burst)
	if rl.ttl <= 0 {
		rl.ttl = 10 * time.Minute
	}
	if rl.key == nil {
		rl.key = KeyByUserOrIP()
	}
	rl.lastSweep = rl.now()
	return rl
}

// limiter returns the bucket for key, creating it when absent. At most once
// per TTL the whole map is swept for idle buckets; the sweep runs before the
// lookup so a stale bucket is replaced rather than refreshed.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.ttl {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// Len reports how many buckets are live.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) cost(method string) int {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return rl.writeCost
	}
	return 1
}

// retryAfterSeconds rounds the wait for n tokens up to whole seconds.
func (rl *RateLimiter) retryAfterSeconds(n int) int {
	if rl.rps <= 0 {
		return 60
	}
	return max(int(math.Ceil(float64(n)/float64(rl.rps))), 1)
}

// Handler rejects over-budget requests with 429, a Retry-After header and
// the standard error envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		n := rl.cost(c.Request.Method)
		if IsRateBypass(c) {
			c.Next()
			// The key may have gone stale between lookup and handler; a
			// request that was not answered from the replay is billed.
			if c.Writer.Header().Get(HeaderIdempotencyReplayed) != "true" {
				now := rl.now()
				rl.limiter(rl.key(c), now).ReserveN(now, n)
			}
			return
		}

		now := rl.now()
		if rl.limiter(rl.key(c), now).AllowN(now, n) {
			c.Next()
			return
		}

		LoggerFrom(c).Debug().Int("cost", n).Msg("rate limited")
		c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds(n)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

// IsRateBypass reports whether IdempotencyValidator found a live key for the
// request. The bypass only holds if the handler actually serves a replay.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyRateBypass).(bool)
	return b
}
