// Package httpapi assembles the Gin engine: the middleware chain, probes,
// metrics and docs endpoints, and the Mood, Session and Task resources
// backed by whichever Stores the caller injects.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-wellness-backend/docs"
	"github.com/tbourn/go-wellness-backend/internal/config"
	"github.com/tbourn/go-wellness-backend/internal/domain"
	"github.com/tbourn/go-wellness-backend/internal/http/handlers"
	"github.com/tbourn/go-wellness-backend/internal/http/middleware"
	"github.com/tbourn/go-wellness-backend/internal/services"
)

var (
	corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-Match",
	}
	corsExpose = []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderReplayed}
)

const (
	maxBodyBytes = 1 << 20
	readyTimeout = 2 * time.Second
)

// RegisterRoutes attaches the middleware chain, probes, metrics and docs to
// r, then mounts the record API under cfg.APIBasePath.
//
// Global order: otelgin, RequestID, RedactingLogger, Recovery, body limit,
// gzip, metrics, CORS, security headers. The API group adds Authenticate,
// then IdempotencyValidator ahead of the rate limiter so a replayed create
// skips the bucket.
func RegisterRoutes(r *gin.Engine, st Stores, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key", middleware.HeaderUserID},
			QuietPaths:  []string{"/health", "/ready", "/metrics"},
		}),
		middleware.Recovery(),
		limitBody(maxBodyBytes),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})),
		middleware.NewMetrics(prometheus.DefaultRegisterer, middleware.MetricsOptions{
			Namespace: "wellness",
			SkipPaths: []string{"/metrics"},
		}).Handler(),
	)
	r.Use(corsHandlers(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
		HTMLPrefixes: []string{"/swagger/"},
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(st.Ping))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Authenticate(middleware.AuthOptions{
			Secret:      []byte(cfg.Auth.JWTSecret),
			AllowHeader: cfg.Auth.AllowHeader,
		}),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			idempotencyLookup(st),
		),
		middleware.NewRateLimiter(middleware.RateLimitOptions{
			RPS:       cfg.RateRPS,
			Burst:     cfg.RateBurst,
			WriteCost: cfg.RateWriteCost,
			Key:       middleware.KeyByUserOrIP(),
		}).Handler(),
	)

	handlers.NewResource[domain.Mood, *domain.Mood, domain.MoodInput](
		services.MoodKind.Label, services.MoodKind.Collection,
		services.NewRecordService(services.MoodKind, st.Moods), st.Idempotency, cfg.IdempotencyTTL).Mount(api)
	handlers.NewResource[domain.Session, *domain.Session, domain.SessionInput](
		services.SessionKind.Label, services.SessionKind.Collection,
		services.NewRecordService(services.SessionKind, st.Sessions), st.Idempotency, cfg.IdempotencyTTL).Mount(api)
	handlers.NewResource[domain.Task, *domain.Task, domain.TaskInput](
		services.TaskKind.Label, services.TaskKind.Collection,
		services.NewRecordService(services.TaskKind, st.Tasks), st.Idempotency, cfg.IdempotencyTTL).Mount(api)
}

// corsHandlers builds the CORS chain. With no allowlist every origin is
// accepted and "*" is sent even without an Origin header. With an allowlist
// a listed Origin is echoed back with Vary: Origin.
func corsHandlers(origins []string) []gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  corsHeaders,
		ExposeHeaders: corsExpose,
		MaxAge:        12 * time.Hour,
	}

	var echo gin.HandlerFunc
	if len(origins) == 0 {
		conf.AllowAllOrigins = true
		echo = func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
	} else {
		conf.AllowOrigins = origins
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		echo = func(c *gin.Context) {
			if o := c.GetHeader("Origin"); allowed[o] {
				c.Writer.Header().Set("Access-Control-Allow-Origin", o)
				c.Writer.Header().Add("Vary", "Origin")
			}
		}
	}
	return []gin.HandlerFunc{echo, cors.New(conf)}
}

// readiness answers 503 while ping fails. A nil ping is always ready.
func readiness(ping func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
			defer cancel()
			if err := ping(ctx); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
				handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "store unavailable")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// idempotencyLookup adapts the idempotency store to the middleware callback.
// Lookup failures are treated as a miss.
func idempotencyLookup(st Stores) middleware.IdempotencyLookup {
	if st.Idempotency == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		rec, err := st.Idempotency.Get(ctx, userID, scope, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}
}

// limitBody caps request bodies at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
