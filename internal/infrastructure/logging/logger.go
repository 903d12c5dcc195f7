package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
)

// ServiceName is attached to every record as the "service" attribute.
const ServiceName = "ceazamet-ingest"

// Logger is the service logger. Every record carries the service name and
// build version. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the config. Output is
// stdout, stderr or discard; format is json (default), text or tint.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "discard":
		output = io.Discard
	default:
		output = os.Stdout
	}
	return newWithWriter(cfg, version, output)
}

func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})
	case "tint":
		handler = tint.NewHandler(output, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    output != os.Stdout && output != os.Stderr,
		})
	default:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel maps debug, warn (or warning) and error to their slog level.
// Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a child logger that adds args to every record, for example
// logger.With("component", "poller").
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default is the JSON info-level stdout logger used until the config has
// been read.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Nop returns a logger that drops everything. Intended for tests.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
