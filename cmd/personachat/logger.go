package main

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// newLogger creates the process logger: colored text for terminals, JSON otherwise
func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := parseLogLevel(level)

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: lvl,
		}))
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level: lvl,
	}))
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
