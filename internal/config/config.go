// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the record store backend, authentication,
// rate limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/tbourn/go-wellness-backend/internal/sysutil"
)

// Store drivers accepted by DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMongo    = "mongo"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// DatabaseConfig selects and locates the record store.
type DatabaseConfig struct {
	Driver         string        // DB_DRIVER: sqlite|postgres|mysql|mongo
	Path           string        // DB_PATH (sqlite file)
	DSN            string        // DB_DSN, falls back to DATABASE_URL
	MongoURI       string        // MONGO_URI
	MongoDatabase  string        // MONGO_DATABASE
	ConnectTimeout time.Duration // DB_CONNECT_TIMEOUT: startup retry budget
	Tracing        bool          // DB_TRACING: GORM OpenTelemetry plugin
}

// AuthConfig configures principal resolution.
type AuthConfig struct {
	JWTSecret   string // AUTH_JWT_SECRET (HS256)
	AllowHeader bool   // AUTH_ALLOW_HEADER: trust X-User-ID (dev/test only)
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-wellness-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	Database DatabaseConfig

	// Auth
	Auth AuthConfig

	// Rate limiting
	RateRPS       float64 // tokens per second (>= 0)
	RateBurst     int     // bucket size (>= 1)
	RateWriteCost int     // tokens charged per mutating request (1..RateBurst)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// env mirrors the process environment. Defaults live in the struct tags.
type env struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"20s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	GinMode           string        `envconfig:"GIN_MODE" default:"release"`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      Flag   `envconfig:"LOG_PRETTY" default:"false"`
	SwaggerEnabled Flag   `envconfig:"SWAGGER_ENABLED" default:"false"`
	APIBasePath    string `envconfig:"API_BASE_PATH" default:"/api"`

	DBDriver         string        `envconfig:"DB_DRIVER" default:"sqlite"`
	DBPath           string        `envconfig:"DB_PATH" default:"wellness.db"`
	DBDSN            string        `envconfig:"DB_DSN"`
	DatabaseURL      string        `envconfig:"DATABASE_URL"`
	MongoURI         string        `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase    string        `envconfig:"MONGO_DATABASE" default:"wellness"`
	DBConnectTimeout time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"30s"`
	DBTracing        Flag          `envconfig:"DB_TRACING" default:"false"`

	AuthJWTSecret   string `envconfig:"AUTH_JWT_SECRET"`
	AuthAllowHeader Flag   `envconfig:"AUTH_ALLOW_HEADER" default:"false"`

	RateRPS       float64 `envconfig:"RATE_RPS" default:"5"`
	RateBurst     int     `envconfig:"RATE_BURST" default:"10"`
	RateWriteCost int     `envconfig:"RATE_WRITE_COST" default:"1"`

	CORSAllowedOrigins string        `envconfig:"CORS_ALLOWED_ORIGINS"`
	EnableHSTS         Flag          `envconfig:"ENABLE_HSTS" default:"false"`
	HSTSMaxAge         time.Duration `envconfig:"HSTS_MAX_AGE" default:"4320h"`

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	OTELEnabled     Flag    `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	OTELInsecure    Flag    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	OTELServiceName string  `envconfig:"OTEL_SERVICE_NAME" default:"go-wellness-backend"`
	OTELSampleRatio float64 `envconfig:"OTEL_TRACES_SAMPLER_ARG" default:"1.0"`
}

// Flag is a boolean that also accepts yes/no, y/n and on/off.
type Flag bool

// Decode implements envconfig.Decoder.
func (f *Flag) Decode(value string) error {
	if strings.TrimSpace(value) == "" {
		*f = false
		return nil
	}
	b, ok := sysutil.ParseFlag(value)
	if !ok {
		return fmt.Errorf("invalid boolean %q", value)
	}
	*f = Flag(b)
	return nil
}

// LoadDotEnv reads the given .env files (default ".env") into the process
// environment without overriding variables that are already set. Missing
// files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg := Config{
		// Server
		Port:              strings.TrimSpace(e.Port),
		ReadTimeout:       e.ReadTimeout,
		ReadHeaderTimeout: e.ReadHeaderTimeout,
		WriteTimeout:      e.WriteTimeout,
		IdleTimeout:       e.IdleTimeout,
		MaxHeaderBytes:    e.MaxHeaderBytes,
		GinMode:           strings.ToLower(strings.TrimSpace(e.GinMode)),

		// Logging / Docs
		LogLevel:       strings.ToLower(strings.TrimSpace(e.LogLevel)),
		LogPretty:      bool(e.LogPretty),
		SwaggerEnabled: bool(e.SwaggerEnabled),
		APIBasePath:    normalizeBasePath(e.APIBasePath),

		// Storage
		Database: DatabaseConfig{
			Driver:         strings.ToLower(strings.TrimSpace(e.DBDriver)),
			Path:           strings.TrimSpace(e.DBPath),
			DSN:            strings.TrimSpace(sysutil.FirstNonEmpty(e.DBDSN, e.DatabaseURL)),
			MongoURI:       strings.TrimSpace(e.MongoURI),
			MongoDatabase:  strings.TrimSpace(e.MongoDatabase),
			ConnectTimeout: e.DBConnectTimeout,
			Tracing:        bool(e.DBTracing),
		},

		// Auth
		Auth: AuthConfig{
			JWTSecret:   e.AuthJWTSecret,
			AllowHeader: bool(e.AuthAllowHeader),
		},

		// Rate limiting
		RateRPS:       e.RateRPS,
		RateBurst:     e.RateBurst,
		RateWriteCost: e.RateWriteCost,

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(e.CORSAllowedOrigins),
		},
		Security: SecurityConfig{
			EnableHSTS: bool(e.EnableHSTS),
			HSTSMaxAge: e.HSTSMaxAge,
		},

		// Idempotency
		IdempotencyTTL: e.IdempotencyTTL,

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     bool(e.OTELEnabled),
			Endpoint:    e.OTELEndpoint,
			Insecure:    bool(e.OTELInsecure),
			ServiceName: e.OTELServiceName,
			SampleRatio: e.OTELSampleRatio,
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Database.Driver == "postgresql" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Driver == "mongodb" {
		cfg.Database.Driver = DriverMongo
	}

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if cfg.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if err := cfg.Database.validate(); err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowHeader {
		return errors.New("AUTH_JWT_SECRET must be set unless AUTH_ALLOW_HEADER is enabled")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.RateWriteCost < 1 || cfg.RateWriteCost > cfg.RateBurst {
		return errors.New("RATE_WRITE_COST must be in [1,RATE_BURST]")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

func (d DatabaseConfig) validate() error {
	switch d.Driver {
	case DriverSQLite:
		if d.Path == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case DriverPostgres, DriverMySQL:
		if d.DSN == "" {
			return fmt.Errorf("DB_DSN must be set for DB_DRIVER=%s", d.Driver)
		}
	case DriverMongo:
		if d.MongoURI == "" || d.MongoDatabase == "" {
			return errors.New("MONGO_URI and MONGO_DATABASE must be set for DB_DRIVER=mongo")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres, mysql, mongo")
	}
	if d.ConnectTimeout <= 0 {
		return errors.New("DB_CONNECT_TIMEOUT must be > 0")
	}
	return nil
}

// ---- helpers ----

func isNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
