// Record HTTP handlers.
//
// This file exposes the REST endpoints shared by every owner-scoped record
// kind (moods, sessions, tasks):
//   - GET    /{kind}?from&to     (list, newest/oldest first per kind)
//   - GET    /{kind}/{id}        (fetch one, ETag)
//   - POST   /{kind}             (create, Idempotency-Key replay)
//   - PUT    /{kind}/{id}        (merge update, If-Match)
//   - PATCH  /{kind}/{id}        (alias of PUT)
//   - DELETE /{kind}/{id}        (permanent delete, If-Match)
//
// Handlers are transport-thin: they decode input, resolve the authenticated
// owner, call the record service, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wellness-backend/internal/domain"
	"github.com/tbourn/go-wellness-backend/internal/http/middleware"
	"github.com/tbourn/go-wellness-backend/internal/repo"
	"github.com/tbourn/go-wellness-backend/internal/services"
)

// HeaderReplayed marks a response served from a stored idempotent create.
const HeaderReplayed = middleware.HeaderIdempotencyReplayed

// RecordService is the service contract consumed by Resource.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RecordService[T any, I any] interface {
	List(ctx context.Context, ownerID string, r services.DateRange) ([]T, error)
	Create(ctx context.Context, ownerID string, in I) (*T, error)
	Get(ctx context.Context, ownerID, id string) (*T, error)
	Update(ctx context.Context, ownerID, id string, in I, expectVersion int64) (*T, error)
	Remove(ctx context.Context, ownerID, id string, expectVersion int64) error
}

// Resource serves one record kind.
type Resource[T any, PT interface {
	*T
	domain.Record
}, I any] struct {
	svc   RecordService[T, I]
	label string // "Mood"
	scope string // "moods"

	idem    repo.IdempotencyStore
	idemTTL time.Duration
}

// NewResource binds a service to its route collection. idem may be nil to
// disable replay of keyed creates.
func NewResource[T any, PT interface {
	*T
	domain.Record
}, I any](label, scope string, svc RecordService[T, I], idem repo.IdempotencyStore, idemTTL time.Duration) *Resource[T, PT, I] {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Resource[T, PT, I]{svc: svc, label: label, scope: scope, idem: idem, idemTTL: idemTTL}
}

// Scope is the collection name used in routes and idempotency records.
func (h *Resource[T, PT, I]) Scope() string { return h.scope }

// Mount registers the six record routes on g under /{scope}.
func (h *Resource[T, PT, I]) Mount(g gin.IRoutes) {
	base := "/" + h.scope
	g.GET(base, h.List)
	g.POST(base, h.Create)
	g.GET(base+"/:id", h.Get)
	g.PUT(base+"/:id", h.Update)
	g.PATCH(base+"/:id", h.Update)
	g.DELETE(base+"/:id", h.Delete)
}

// userID extracts the authenticated user id stored by the auth middleware.
func userID(c *gin.Context) string {
	if v, ok := c.Get(middleware.UserIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// owner returns the principal or aborts with 401.
func owner(c *gin.Context) (string, bool) {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required", nil)
		return "", false
	}
	return uid, true
}

// parseRange reads the optional from/to query bounds.
func parseRange(c *gin.Context) (services.DateRange, error) {
	var r services.DateRange
	for _, b := range []struct {
		name string
		dst  **time.Time
	}{{"from", &r.From}, {"to", &r.To}} {
		raw := strings.TrimSpace(c.Query(b.name))
		if raw == "" {
			continue
		}
		t, err := domain.ParseTimestamp(raw)
		if err != nil {
			return r, errors.New("invalid '" + b.name + "' date")
		}
		*b.dst = &t
	}
	return r, nil
}

func (h *Resource[T, PT, I]) writeRecord(c *gin.Context, status int, rec *T) {
	c.Header("ETag", etag(PT(rec).Meta().Version))
	c.JSON(status, rec)
}

// List returns the caller's records, optionally bounded by from/to.
func (h *Resource[T, PT, I]) List(c *gin.Context) {
	uid, authed := owner(c)
	if !authed {
		return
	}
	r, err := parseRange(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	items, err := h.svc.List(c.Request.Context(), uid, r)
	if err != nil {
		failService(c, h.label, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// Get returns one record the caller owns.
func (h *Resource[T, PT, I]) Get(c *gin.Context) {
	uid, authed := owner(c)
	if !authed {
		return
	}
	rec, err := h.svc.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failService(c, h.label, err)
		return
	}
	h.writeRecord(c, http.StatusOK, rec)
}

// Create decodes the payload and persists a new record. With a validated
// Idempotency-Key, a retry within the TTL returns the first result.
func (h *Resource[T, PT, I]) Create(c *gin.Context) {
	uid, authed := owner(c)
	if !authed {
		return
	}
	ctx := c.Request.Context()

	var in I
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", nil)
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.idem != nil {
		if h.replay(c, uid, idemKey) {
			return
		}
	}

	rec, err := h.svc.Create(ctx, uid, in)
	if err != nil {
		failService(c, h.label, err)
		return
	}

	if idemKey != "" && h.idem != nil {
		if _, err := h.idem.Put(ctx, uid, h.scope, idemKey, PT(rec).Meta().ID, http.StatusCreated, h.idemTTL); err != nil {
			ev := middleware.LoggerFrom(c).Warn()
			if errors.Is(err, repo.ErrDuplicate) {
				ev = ev.Str("reason", "key bound concurrently")
			}
			ev.Err(err).Str("scope", h.scope).Msg("idempotency record not stored")
		}
	}

	h.writeRecord(c, http.StatusCreated, rec)
}

// replay answers a keyed create from its first result and reports whether a
// response was written. A key whose record has since been deleted is
// forgotten so the create below binds it afresh.
func (h *Resource[T, PT, I]) replay(c *gin.Context, uid, key string) bool {
	ctx := c.Request.Context()
	log := middleware.LoggerFrom(c)

	entry, err := h.idem.Get(ctx, uid, h.scope, key, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Str("scope", h.scope).Msg("idempotency lookup failed")
		}
		return false
	}

	prev, err := h.svc.Get(ctx, uid, entry.RecordID)
	switch {
	case err == nil:
		c.Header(HeaderReplayed, "true")
		h.writeRecord(c, entry.Status, prev)
		return true
	case errors.Is(err, services.ErrNotFound):
		log.Warn().Str("scope", h.scope).Str("record_id", entry.RecordID).Msg("idempotency key points at a deleted record")
		if err := h.idem.Delete(ctx, uid, h.scope, key); err != nil {
			log.Warn().Err(err).Str("scope", h.scope).Msg("stale idempotency key not removed")
		}
		return false
	default:
		failService(c, h.label, err)
		return true
	}
}

// Update merges the payload into an owned record. If-Match pins the version.
func (h *Resource[T, PT, I]) Update(c *gin.Context) {
	uid, authed := owner(c)
	if !authed {
		return
	}
	expect, valid := parseIfMatch(c.GetHeader("If-Match"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid If-Match header", nil)
		return
	}

	var in I
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", nil)
		return
	}

	rec, err := h.svc.Update(c.Request.Context(), uid, c.Param("id"), in, expect)
	if err != nil {
		failService(c, h.label, err)
		return
	}
	h.writeRecord(c, http.StatusOK, rec)
}

// Delete permanently removes an owned record.
func (h *Resource[T, PT, I]) Delete(c *gin.Context) {
	uid, authed := owner(c)
	if !authed {
		return
	}
	expect, valid := parseIfMatch(c.GetHeader("If-Match"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid If-Match header", nil)
		return
	}
	if err := h.svc.Remove(c.Request.Context(), uid, c.Param("id"), expect); err != nil {
		failService(c, h.label, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: h.label + " deleted"})
}
