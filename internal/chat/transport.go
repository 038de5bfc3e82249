package chat

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	applog "github.com/prospectr/prospectctl/internal/log"
)

// LoggingTransport traces requests and responses at trace level. Cookie and
// credential headers are redacted.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewLoggingHTTPClient wraps http.DefaultTransport with trace logging.
func NewLoggingHTTPClient(logger *slog.Logger) *http.Client {
	return &http.Client{Transport: &LoggingTransport{Base: http.DefaultTransport, Logger: logger}}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	ctx := req.Context()
	if t.Logger == nil || !t.Logger.Enabled(ctx, applog.LevelTrace) {
		return base.RoundTrip(req)
	}

	t.Logger.LogAttrs(ctx, applog.LevelTrace, "HTTP request",
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
		slog.Any("headers", redactHeaders(req.Header)),
		slog.Int64("content_length", req.ContentLength))

	start := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		t.Logger.LogAttrs(ctx, applog.LevelTrace, "HTTP request failed",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, err
	}

	t.Logger.LogAttrs(ctx, applog.LevelTrace, "HTTP response",
		slog.Int("status", resp.StatusCode),
		slog.String("content_type", resp.Header.Get("Content-Type")),
		slog.Duration("duration", time.Since(start)),
		slog.Any("headers", redactHeaders(resp.Header)))
	return resp, nil
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		key := strings.ToLower(k)
		switch {
		case key == "authorization", key == "cookie", key == "set-cookie", strings.Contains(key, "token"):
			out[k] = "[REDACTED]"
		default:
			out[k] = strings.Join(v, ", ")
		}
	}
	return out
}
