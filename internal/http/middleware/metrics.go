package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that matched no registered route, so
// scanners probing random URLs cannot grow the series count.
const unmatchedRoute = "unmatched"

// MetricsOptions configures HTTPMetrics.
type MetricsOptions struct {
	// Namespace prefixes every metric name (e.g. "wellness").
	Namespace string
	// SkipPaths are routes that are not instrumented, typically "/metrics".
	SkipPaths []string
}

// HTTPMetrics holds the Prometheus collectors for API traffic.
//
// Series are labelled by method, registered route (e.g. /api/moods/:id) and
// status code. Responses served from a stored idempotent create are counted
// separately in idempotent_replays_total.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inflight prometheus.Gauge
	size     *prometheus.HistogramVec
	replays  *prometheus.CounterVec
	skip     map[string]struct{}
}

// NewMetrics creates the collectors and registers them with reg. Collectors
// that reg already holds are reused, so building several routers in one
// process shares a single set of series.
func NewMetrics(reg prometheus.Registerer, opts MetricsOptions) *HTTPMetrics {
	ns := opts.Namespace
	m := &HTTPMetrics{
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"})),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"})),
		inflight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served.",
		})),
		size: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response body size by method and route.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
		}, []string{"method", "route"})),
		replays: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "idempotent_replays_total",
			Help:      "Create requests answered from a stored idempotency key.",
		}, []string{"route"})),
		skip: make(map[string]struct{}, len(opts.SkipPaths)),
	}
	for _, p := range opts.SkipPaths {
		m.skip[p] = struct{}{}
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Handler returns the Gin middleware that records each request.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := m.skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n >= 0 {
			m.size.WithLabelValues(method, route).Observe(float64(n))
		}
		if c.Writer.Header().Get(HeaderIdempotencyReplayed) == "true" {
			m.replays.WithLabelValues(route).Inc()
		}
	}
}
