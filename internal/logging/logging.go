// Package logging configures the daemon's default slog handler.
//
// Every long-lived component logs through the default slog logger with
// structured fields rather than through a bespoke wrapper, matching the
// logging texture of the teacher repository's pkg/httpclient and
// pkg/config packages.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Config controls the process-wide slog handler.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string `yaml:"level,omitempty"`

	// Format is one of "text" or "json". Defaults to "text".
	Format string `yaml:"format,omitempty"`
}

// SetDefaults fills in zero-valued fields.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errInvalidLevel(c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "text", "json":
	default:
		return errInvalidFormat(c.Format)
	}
	return nil
}

type errInvalidLevel string

func (e errInvalidLevel) Error() string { return "invalid log level: " + string(e) }

type errInvalidFormat string

func (e errInvalidFormat) Error() string { return "invalid log format: " + string(e) }

// Init installs a process-wide slog handler built from cfg and returns
// the configured logger, also setting it as slog's default so package-
// level slog.Info/Warn/Error calls throughout the daemon pick it up.
func Init(cfg Config) *slog.Logger {
	cfg.SetDefaults()

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
