package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"talentflex/internal/config"
)

// New builds the process logger from configuration and installs it as the slog default.
func New(cfg config.LogConfig) *slog.Logger {
	logger := newWithWriter(cfg, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

func newWithWriter(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
