package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type Key struct{}

var LoggerKey = Key{}

// LevelTrace sits below debug and is used for wire-level stream logging.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a configured level name to a slog level. Unknown names
// fall back to error so a typo never floods the log file.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Options configures the logger built by New.
type Options struct {
	Level   string
	File    string
	Console io.Writer
}

// New builds the process logger. Records go to File as JSON at the
// configured level; error records are mirrored to Console in a short form.
// The returned closer releases the log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		primary slog.Handler
		closer  io.Closer = nopCloser{}
	)

	handlerOpts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: renameTraceLevel,
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		primary = slog.NewJSONHandler(f, handlerOpts)
		closer = f
	}

	var secondary slog.Handler
	if opts.Console != nil {
		secondary = NewFriendlyErrorHandler(opts.Console)
	}

	return slog.New(NewDualHandler(primary, secondary)), closer, nil
}

func renameTraceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
