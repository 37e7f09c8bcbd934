// Package logger builds the slog loggers used by the featuregate binaries
// and carries request-scoped loggers through context.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/rafaeljc/featuregate/internal/config"
)

// New returns the process logger described by cfg, writing to stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
// Records carry service, version and env so both planes can share one log index.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.LogLevel),
		AddSource: !cfg.IsProduction(),
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h).With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// parseLevel accepts any casing of debug, info, warn and error.
// Anything else means info.
func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
