// Package sysutil holds process-level helpers shared by the server command:
// logger setup and small environment parsing utilities.
package sysutil

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger points the global zerolog logger at out (stdout when nil),
// tagged with the service name. Pretty selects the human-readable console
// writer used in development; otherwise logs are JSON lines.
func InitLogger(out io.Writer, service string, pretty bool) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05", NoColor: true}
	}
	l := zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	log.Logger = l
	return l
}

// SetLogLevel sets the global zerolog level from a name such as "debug" or
// "WARN" and returns the level applied. "warning" is accepted as an alias;
// empty, unknown and disabled values fall back to info.
func SetLogLevel(lvl string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(lvl))
	if name == "warning" {
		name = "warn"
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || l == zerolog.NoLevel || l == zerolog.Disabled {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
	return l
}

// ParseFlag reads a permissive boolean: the strconv.ParseBool spellings plus
// yes/no, y/n and on/off, case-insensitive. ok is false for anything else.
func ParseFlag(v string) (value, ok bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "yes", "y", "on":
		return true, true
	case "no", "n", "off":
		return false, true
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}

// IsTruthy reports whether v parses as a true flag.
func IsTruthy(v string) bool {
	b, ok := ParseFlag(v)
	return ok && b
}

// FirstNonEmpty returns the first non-empty string from a variadic list.
// If all values are empty, it returns "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
