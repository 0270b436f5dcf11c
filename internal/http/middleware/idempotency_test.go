package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	userID, scope, key string
	now                time.Time
}

// idemRouter mounts the validator behind a stub principal and records what
// each handler observed.
func idemRouter(t *testing.T, opts IdempotencyOptions, lookup IdempotencyLookup) (*gin.Engine, *[]string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	seen := &[]string{}

	r := gin.New()
	r.Use(RequestID())
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader(HeaderUserID); uid != "" {
			c.Set(UserIDKey, uid)
		}
		c.Next()
	})
	r.Use(IdempotencyValidator(opts, lookup))
	h := func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		*seen = append(*seen, key+"|"+map[bool]string{true: "bypass", false: "charged"}[IsRateBypass(c)])
		c.Status(http.StatusOK)
	}
	r.POST("/api/moods", h)
	r.POST("/api/tasks", h)
	r.PATCH("/api/moods/:id", h)
	return r, seen
}

func sendIdem(r http.Handler, method, path, uid, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if uid != "" {
		req.Header.Set(HeaderUserID, uid)
	}
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	r, seen := idemRouter(t, IdempotencyOptions{MaxLen: 8}, nil)

	for _, key := range []string{"123456789", "has space", "semi;colon", "é"} {
		w := sendIdem(r, http.MethodPost, "/api/moods", "u1", key)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("key %q: status %d; want 400", key, w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if body["code"] != "bad_idempotency_key" || body["request_id"] == "" || body["request_id"] == nil {
			t.Fatalf("unexpected body: %v", body)
		}
	}
	if len(*seen) != 0 {
		t.Fatalf("handler must not run for rejected keys: %v", *seen)
	}

	if w := sendIdem(r, http.MethodPost, "/api/moods", "u1", "a~b.c:d_"); w.Code != http.StatusOK {
		t.Fatalf("8-char token should be accepted, got %d", w.Code)
	}
}

func TestIdempotencyValidator_DefaultMaxLen(t *testing.T) {
	r, _ := idemRouter(t, IdempotencyOptions{}, nil)

	if w := sendIdem(r, http.MethodPost, "/api/moods", "u1", strings.Repeat("k", defaultIdempotencyKeyLen)); w.Code != http.StatusOK {
		t.Fatalf("max-length key rejected: %d", w.Code)
	}
	if w := sendIdem(r, http.MethodPost, "/api/moods", "u1", strings.Repeat("k", defaultIdempotencyKeyLen+1)); w.Code != http.StatusBadRequest {
		t.Fatalf("over-length key accepted: %d", w.Code)
	}
}

func TestIdempotencyValidator_LookupScopesAndBypass(t *testing.T) {
	var calls []lookupCall
	stored := map[string]bool{"u1/moods/k1": true}
	lookup := func(_ context.Context, userID, scope, key string, now time.Time) (bool, error) {
		calls = append(calls, lookupCall{userID, scope, key, now})
		return stored[userID+"/"+scope+"/"+key], nil
	}
	r, seen := idemRouter(t, IdempotencyOptions{}, lookup)

	sendIdem(r, http.MethodPost, "/api/moods", "u1", "k1") // stored
	sendIdem(r, http.MethodPost, "/api/tasks", "u1", "k1") // other collection
	sendIdem(r, http.MethodPost, "/api/moods", "u2", "k1") // other owner
	sendIdem(r, http.MethodPost, "/api/moods", "u1", "")   // no key

	want := []string{"k1|bypass", "k1|charged", "k1|charged", "|charged"}
	if strings.Join(*seen, ",") != strings.Join(want, ",") {
		t.Fatalf("handler saw %v; want %v", *seen, want)
	}
	if len(calls) != 3 {
		t.Fatalf("lookup calls = %d; want 3", len(calls))
	}
	if calls[1].scope != "tasks" || calls[2].userID != "u2" {
		t.Fatalf("lookup not scoped by owner and collection: %+v", calls)
	}
	for _, c := range calls {
		if c.now.IsZero() || c.now.Location() != time.UTC {
			t.Fatalf("lookup time must be UTC: %v", c.now)
		}
	}
}

func TestIdempotencyValidator_NoLookupForAnonymousOrUpdates(t *testing.T) {
	called := 0
	lookup := func(context.Context, string, string, string, time.Time) (bool, error) {
		called++
		return true, nil
	}
	r, seen := idemRouter(t, IdempotencyOptions{}, lookup)

	sendIdem(r, http.MethodPost, "/api/moods", "", "k")
	sendIdem(r, http.MethodPatch, "/api/moods/m1", "u1", "k")

	if called != 0 {
		t.Fatalf("lookup should not run, called %d times", called)
	}
	if strings.Join(*seen, ",") != "k|charged,k|charged" {
		t.Fatalf("key should still be stashed without bypass: %v", *seen)
	}
}

func TestIdempotencyValidator_LookupErrorIsAMiss(t *testing.T) {
	buf := captureLogger(t)
	lookup := func(context.Context, string, string, string, time.Time) (bool, error) {
		return true, errors.New("store down")
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Authenticate(AuthOptions{AllowHeader: true}))
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/api/sessions", func(c *gin.Context) {
		if IsRateBypass(c) {
			t.Fatalf("a failed lookup must not bypass rate limiting")
		}
		c.Status(http.StatusCreated)
	})

	if w := sendIdem(r, http.MethodPost, "/api/sessions", "u1", "k"); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	line := firstLine(buf, "idempotency lookup failed")
	if !strings.Contains(line, `"error":"store down"`) || !strings.Contains(line, `"scope":"sessions"`) || !strings.Contains(line, `"user_id":"u1"`) {
		t.Fatalf("lookup failure not logged with context: %q", line)
	}
}

func TestGetIdempotencyKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected no key")
	}
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string value must read as absent")
	}
	c.Set(ctxKeyIdemKey, "k")
	if k, ok := GetIdempotencyKey(c); k != "k" || !ok {
		t.Fatalf("GetIdempotencyKey = %q, %v", k, ok)
	}
}

func TestScopeFromRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	got := map[string]string{}
	h := func(c *gin.Context) { got[c.Request.URL.Path] = ScopeFromRoute(c) }
	r.POST("/api/sessions", h)
	r.PUT("/api/sessions/:id", h)
	r.GET("/files/*rest", h)
	r.POST("/", h)

	for _, p := range []struct{ method, path string }{
		{http.MethodPost, "/api/sessions"},
		{http.MethodPut, "/api/sessions/s1"},
		{http.MethodGet, "/files/a/b"},
		{http.MethodPost, "/"},
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(p.method, p.path, nil))
	}
	want := map[string]string{"/api/sessions": "sessions", "/api/sessions/s1": "sessions", "/files/a/b": "files", "/": ""}
	for path, scope := range want {
		if got[path] != scope {
			t.Fatalf("ScopeFromRoute(%s) = %q; want %q", path, got[path], scope)
		}
	}
}

// firstLine returns the first captured log line containing msg.
func firstLine(buf *bytes.Buffer, msg string) string {
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, msg) {
			return l
		}
	}
	return ""
}
