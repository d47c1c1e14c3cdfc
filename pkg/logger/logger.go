package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log is the process-wide logger. Setup replaces it at startup; until then
// it writes warnings and above to stderr.
var Log *slog.Logger

func init() {
	Log = New(os.Stderr, "", slog.LevelWarn)
}

// Attribute keys whose values never reach the log output.
// Public signing links embed the access key; signatures arrive as base64 images.
var redactedKeys = map[string]struct{}{
	"access_key":    {},
	"authorization": {},
	"password":      {},
	"signature":     {},
	"token":         {},
	"master_key":    {},
}

const redacted = "[REDACTED]"

// Setup initializes the global logger: JSON in production, text elsewhere.
// LOG_LEVEL selects the minimum level (debug, info, warn, error).
func Setup(env string) {
	format := "text"
	if env == "production" {
		format = "json"
	}
	Log = New(os.Stdout, format, ParseLevel(os.Getenv("LOG_LEVEL"))).
		With(slog.String("service", "fintera-sign"), slog.String("env", env))
	slog.SetDefault(Log)
}

// New builds a logger that redacts credential attributes
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger carrying the given attributes
func With(args ...any) *slog.Logger {
	return Log.With(args...)
}

func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}
