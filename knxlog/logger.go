// Package knxlog adapts log/slog to the small Logger interface shared by
// the serial and process packages, following the structured-logging
// conventions used across this codebase.
package knxlog

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/knxlink/process"
	"github.com/nerrad567/knxlink/serial"
)

// Logger wraps slog.Logger behind the Debug/Info/Warn/Error contract the
// serial.Link and process.Communicator depend on.
type Logger struct {
	*slog.Logger
}

// Config selects the logger's output format, level, and destination.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "json" or "text". Defaults to "json".
	Format string
	// Output is "stdout" or "stderr". Defaults to "stdout".
	Output string
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

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

// With returns a new Logger carrying additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a Logger suitable for use before configuration is loaded:
// JSON to stdout at info level.
func Default() *Logger {
	return New(Config{Level: "info", Format: "json", Output: "stdout"})
}

// Logger already exposes slog.Logger's Debug/Info/Warn/Error through
// embedding, satisfying both consumers without adapter methods.
var (
	_ serial.Logger  = (*Logger)(nil)
	_ process.Logger = (*Logger)(nil)
)
