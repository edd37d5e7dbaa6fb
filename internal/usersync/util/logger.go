package util

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

// InitLogger installs a JSON logger on stdout at the given level and makes it
// the slog default.
func InitLogger(level slog.Level) {
	Logger = NewLogger(os.Stdout, level)
	slog.SetDefault(Logger)
}

// NewLogger builds the JSON logger without touching the package default.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

func GetLogger() *slog.Logger {
	if Logger == nil {
		InitLogger(slog.LevelInfo)
	}
	return Logger
}

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values fall back
// to info and report ok=false so the caller can warn about it.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
