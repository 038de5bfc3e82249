package log

import (
	"context"
	"log/slog"
	"strings"
)

type turnContextKey struct{}

// TurnContext identifies the chat turn a record belongs to.
type TurnContext struct {
	Command   string
	SessionID string
	Epoch     uint64
	Mode      string
}

// WithTurnContext merges the non-zero fields of update into ctx.
func WithTurnContext(ctx context.Context, update TurnContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	current := TurnContextFrom(ctx)
	if s := strings.TrimSpace(update.Command); s != "" {
		current.Command = s
	}
	if s := strings.TrimSpace(update.SessionID); s != "" {
		current.SessionID = s
	}
	if update.Epoch != 0 {
		current.Epoch = update.Epoch
	}
	if s := strings.TrimSpace(update.Mode); s != "" {
		current.Mode = s
	}
	return context.WithValue(ctx, turnContextKey{}, current)
}

func TurnContextFrom(ctx context.Context) TurnContext {
	if ctx == nil {
		return TurnContext{}
	}
	if tc, ok := ctx.Value(turnContextKey{}).(TurnContext); ok {
		return tc
	}
	return TurnContext{}
}

// TurnAttrs converts the turn context of ctx into slog attributes.
func TurnAttrs(ctx context.Context) []slog.Attr {
	tc := TurnContextFrom(ctx)
	attrs := make([]slog.Attr, 0, 4)
	if tc.Command != "" {
		attrs = append(attrs, slog.String("command", tc.Command))
	}
	if tc.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", tc.SessionID))
	}
	if tc.Epoch != 0 {
		attrs = append(attrs, slog.Uint64("turn_epoch", tc.Epoch))
	}
	if tc.Mode != "" {
		attrs = append(attrs, slog.String("mode", tc.Mode))
	}
	return attrs
}
