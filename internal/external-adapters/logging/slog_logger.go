// Package logging adapts log/slog to the domain Logger contract.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ochairo/kiln/internal/domain/interfaces"
)

// SlogLogger writes domain log calls through a slog.Logger
type SlogLogger struct {
	logger *slog.Logger
}

// Options configures NewSlogLogger
type Options struct {
	Level slog.Level
	JSON  bool
}

// NewSlogLogger creates a logger writing to w
func NewSlogLogger(w io.Writer, opts Options) *SlogLogger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return &SlogLogger{logger: slog.New(handler)}
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// With returns a logger that adds fields to every record
func (l *SlogLogger) With(fields ...interfaces.Field) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(attrs(fields)...)}
}

// Debug logs at debug level
func (l *SlogLogger) Debug(msg string, fields ...interfaces.Field) {
	l.logger.Debug(msg, attrs(fields)...)
}

// Info logs at info level
func (l *SlogLogger) Info(msg string, fields ...interfaces.Field) {
	l.logger.Info(msg, attrs(fields)...)
}

// Warn logs at warn level
func (l *SlogLogger) Warn(msg string, fields ...interfaces.Field) {
	l.logger.Warn(msg, attrs(fields)...)
}

// Error logs at error level
func (l *SlogLogger) Error(msg string, fields ...interfaces.Field) {
	l.logger.Error(msg, attrs(fields)...)
}

func attrs(fields []interfaces.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		value := f.Value
		// slog renders error values as {} under the JSON handler
		if err, ok := value.(error); ok && err != nil {
			value = err.Error()
		}
		out = append(out, slog.Any(f.Key, value))
	}
	return out
}
