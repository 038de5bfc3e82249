package chat

import (
	"context"
	"log/slog"

	applog "github.com/prospectr/prospectctl/internal/log"
)

// ContextLogger returns the logger stored in ctx, if any.
func ContextLogger(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	if logger, ok := ctx.Value(applog.LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return nil
}

func logAt(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	logger := ContextLogger(ctx)
	if logger == nil || !logger.Enabled(ctx, level) {
		return
	}
	logger.LogAttrs(ctx, level, msg, append(applog.TurnAttrs(ctx), attrs...)...)
}

func logTrace(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, applog.LevelTrace, msg, attrs...)
}

func logDebug(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelDebug, msg, attrs...)
}

func logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelInfo, msg, attrs...)
}

func logError(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelError, msg, attrs...)
}
