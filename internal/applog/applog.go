// Package applog builds the process logger.
package applog

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
)

// New creates a logger on os.Stderr from cfg and installs it as the slog
// default.
//
// Format "json" produces JSON lines; anything else produces text. Level is
// one of debug, info, warn, error (case-insensitive) and defaults to info.
// At debug level records carry their source location.
func New(cfg config.LogConfig) *slog.Logger {
	logger := NewWithWriter(os.Stderr, cfg)
	slog.SetDefault(logger)
	return logger
}

// NewWithWriter creates a logger writing to w without touching the default.
func NewWithWriter(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level.
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
