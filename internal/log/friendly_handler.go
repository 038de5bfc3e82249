package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// NewFriendlyErrorHandler renders error records for a terminal:
//
//	Error: stream turn failed
//	  suggestion: run prospectctl login
//	  session_id: 6a1f...
func NewFriendlyErrorHandler(w io.Writer) slog.Handler {
	return &friendlyHandler{w: w}
}

type friendlyHandler struct {
	w      io.Writer
	attrs  []slog.Attr
	groups []string
}

func (h *friendlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *friendlyHandler) Handle(_ context.Context, record slog.Record) error {
	fields := map[string]string{}
	for _, a := range h.attrs {
		fields[h.key(a.Key)] = valueString(a.Value)
	}
	record.Attrs(func(a slog.Attr) bool {
		fields[h.key(a.Key)] = valueString(a.Value)
		return true
	})

	summary := strings.TrimSpace(record.Message)
	if summary == "" {
		summary = fields["error"]
	}
	if summary == "" {
		summary = "an unknown error occurred"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", summary)
	if s := fields["suggestion"]; s != "" {
		fmt.Fprintf(&sb, "  suggestion: %s\n", s)
	}

	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if k == "suggestion" || k == "error" || strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines := strings.Split(strings.TrimSpace(fields[k]), "\n")
		fmt.Fprintf(&sb, "  %s: %s\n", k, strings.TrimSpace(lines[0]))
		for _, line := range lines[1:] {
			if line = strings.TrimSpace(line); line != "" {
				fmt.Fprintf(&sb, "    %s\n", line)
			}
		}
	}

	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *friendlyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *friendlyHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *friendlyHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(append(append([]string{}, h.groups...), k), ".")
}

func valueString(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		parts := make([]string, 0, len(v.Group()))
		for _, a := range v.Group() {
			parts = append(parts, a.Key+"="+valueString(a.Value))
		}
		return strings.Join(parts, ", ")
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}
