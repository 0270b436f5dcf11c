// Package client is a typed Go client for the wellness tracker API.
//
//	c := client.New("http://localhost:8080", client.WithBearerToken(tok))
//	m, err := c.Moods.Create(ctx, client.MoodInput{Mood: client.Ptr("happy")}, "")
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Header names understood by the server.
const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotency-Replayed"
)

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status    int    `json:"-"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" && e.Message == "" {
		return fmt.Sprintf("wellness api: status %d", e.Status)
	}
	return fmt.Sprintf("wellness api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an *APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// Option configures the underlying resty client.
type Option func(*Client)

// WithBearerToken authenticates every request with a JWT.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.rc.SetAuthToken(token) }
}

// WithUserID authenticates through the trusted X-User-ID header. The server
// only honors it when AUTH_ALLOW_HEADER is enabled.
func WithUserID(id string) Option {
	return func(c *Client) { c.rc.SetHeader(HeaderUserID, id) }
}

// WithBasePath overrides the API mount point (default "/api").
func WithBasePath(p string) Option {
	return func(c *Client) {
		p = "/" + strings.Trim(p, "/")
		if p == "/" {
			p = ""
		}
		c.base = p
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.rc.SetTimeout(d) }
}

// WithRetries retries transport errors, 429 and 503 with backoff between
// wait and maxWait.
func WithRetries(n int, wait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.rc.SetRetryCount(n).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(maxWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				s := r.StatusCode()
				return s == http.StatusTooManyRequests || s == http.StatusServiceUnavailable
			})
	}
}

// Client talks to one server. It is safe for concurrent use.
type Client struct {
	rc   *resty.Client
	base string

	Moods    *Collection[Mood, MoodInput]
	Sessions *Collection[Session, SessionInput]
	Tasks    *Collection[Task, TaskInput]
}

// New returns a client for the server rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		rc: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Accept", "application/json"),
		base: "/api",
	}
	for _, o := range opts {
		o(c)
	}
	c.Moods = &Collection[Mood, MoodInput]{c: c, name: "moods"}
	c.Sessions = &Collection[Session, SessionInput]{c: c, name: "sessions"}
	c.Tasks = &Collection[Task, TaskInput]{c: c, name: "tasks"}
	return c
}

// Ready calls the readiness probe.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := c.rc.R().SetContext(ctx).SetError(&APIError{}).Get("/ready")
	return check(resp, err)
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rc.R().SetContext(ctx).SetError(&APIError{})
}

// check turns a resty outcome into an error.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("wellness api: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	ae, _ := resp.Error().(*APIError)
	if ae == nil {
		ae = &APIError{}
	}
	ae.Status = resp.StatusCode()
	return ae
}

// ListOptions bounds a listing by record time. Zero values are open ends.
type ListOptions struct {
	From time.Time
	To   time.Time
}

// Collection is one record kind.
type Collection[T any, In any] struct {
	c    *Client
	name string
}

func (k *Collection[T, In]) path() string { return k.c.base + "/" + k.name }
func (k *Collection[T, In]) itemPath() string { return k.path() + "/{id}" }

// List returns the caller's records in server order.
func (k *Collection[T, In]) List(ctx context.Context, opts ListOptions) ([]T, error) {
	out := []T{}
	req := k.c.request(ctx).SetResult(&out)
	if !opts.From.IsZero() {
		req.SetQueryParam("from", opts.From.UTC().Format(time.RFC3339Nano))
	}
	if !opts.To.IsZero() {
		req.SetQueryParam("to", opts.To.UTC().Format(time.RFC3339Nano))
	}
	if err := check(req.Get(k.path())); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one record by id.
func (k *Collection[T, In]) Get(ctx context.Context, id string) (*T, error) {
	var out T
	resp, err := k.c.request(ctx).SetResult(&out).SetPathParam("id", id).Get(k.itemPath())
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Created is the outcome of a create call.
type Created[T any] struct {
	Record *T
	// Replayed is true when the server answered from an earlier request
	// carrying the same idempotency key.
	Replayed bool
}

// Create stores a new record. A non-empty idempotencyKey makes retries safe.
func (k *Collection[T, In]) Create(ctx context.Context, in In, idempotencyKey string) (Created[T], error) {
	var out T
	req := k.c.request(ctx).SetResult(&out).SetBody(in)
	if idempotencyKey != "" {
		req.SetHeader(HeaderIdempotencyKey, idempotencyKey)
	}
	resp, err := req.Post(k.path())
	if err := check(resp, err); err != nil {
		return Created[T]{}, err
	}
	return Created[T]{Record: &out, Replayed: resp.Header().Get(HeaderReplayed) == "true"}, nil
}

// Update merges in into the record. A positive ifMatch fails the call with
// 412 when the stored version differs.
func (k *Collection[T, In]) Update(ctx context.Context, id string, in In, ifMatch int64) (*T, error) {
	var out T
	req := k.c.request(ctx).SetResult(&out).SetBody(in).SetPathParam("id", id)
	setIfMatch(req, ifMatch)
	resp, err := req.Patch(k.itemPath())
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the record permanently.
func (k *Collection[T, In]) Delete(ctx context.Context, id string, ifMatch int64) error {
	req := k.c.request(ctx).SetPathParam("id", id)
	setIfMatch(req, ifMatch)
	return check(req.Delete(k.itemPath()))
}

func setIfMatch(req *resty.Request, version int64) {
	if version > 0 {
		req.SetHeader("If-Match", strconv.Quote(strconv.FormatInt(version, 10)))
	}
}
