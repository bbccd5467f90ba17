// Package logger builds the slog loggers shared by the api and worker
// services. Deployments log JSON; the console format is for local runs.
package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Config selects the handler, level, and destination
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, console
	Output       string // stdout, stderr
	EnableSource bool   // annotate records with file:line
	TimeFormat   string // timestamp layout for console records

	// writer overrides Output when set; used by tests to capture log lines
	writer io.Writer
}

// Logger embeds *slog.Logger so call sites use it directly
type Logger struct {
	*slog.Logger
}

// New builds a logger from the service configuration. Unknown formats fall
// back to JSON so a config typo never silences a service.
func New(cfg *Config) (*Logger, error) {
	return &Logger{Logger: slog.New(newHandler(cfg, resolveWriter(cfg)))}, nil
}

// NewDefault returns a console logger at info level, for tests and tooling
// that have no service configuration to load.
func NewDefault() *Logger {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	})

	return &Logger{Logger: slog.New(handler)}
}

func resolveWriter(cfg *Config) io.Writer {
	switch {
	case cfg.writer != nil:
		return cfg.writer
	case cfg.Output == "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

func newHandler(cfg *Config, w io.Writer) slog.Handler {
	level := parseLevel(cfg.Level)

	if cfg.Format == "console" || cfg.Format == "" {
		timeFormat := cfg.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  cfg.EnableSource,
			TimeFormat: timeFormat,
		})
	}

	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.EnableSource,
	})
}

// parseLevel maps the configured level name to a slog.Level. Unrecognized
// names resolve to info rather than failing startup.
func parseLevel(level string) slog.Level {
	switch level {
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

// WithGroup returns a logger that nests subsequent attributes under name
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{Logger: l.Logger.WithGroup(name)}
}

// With returns a logger that attaches the given attributes to every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
