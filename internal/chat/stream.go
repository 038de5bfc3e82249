package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Frame types sent on a turn stream.
const (
	FrameText          = "text"
	FrameToolStart     = "tool_start"
	FrameToolComplete  = "tool_complete"
	FrameToolError     = "tool_error"
	FrameApolloResults = "apollo_results"
	FrameUsage         = "usage"
	FrameDone          = "done"
	FrameError         = "error"
)

const (
	defaultScannerCapacity = 1024 * 1024
	dataPrefix             = "data:"
)

// ErrTurnTimeout is reported through OnError when the turn deadline expires.
var ErrTurnTimeout = errors.New("turn timed out")

// Frame is the decoded JSON payload of one stream frame.
type Frame struct {
	Type         string          `json:"type"`
	Content      string          `json:"content,omitempty"`
	Tool         string          `json:"tool,omitempty"`
	Input        map[string]any  `json:"input,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Error        any             `json:"error,omitempty"`
	Message      string          `json:"message,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	InputTokens  int             `json:"input_tokens,omitempty"`
	OutputTokens int             `json:"output_tokens,omitempty"`
}

// Handlers receive the frames of one turn, in wire order, on the goroutine
// that called StreamTurn. Nil handlers are skipped. Exactly one of OnDone or
// OnError fires unless the context is cancelled.
type Handlers struct {
	OnText         func(fragment string)
	OnToolStart    func(tool string, input map[string]any)
	OnToolComplete func(tool, summary string)
	OnToolError    func(tool, message string)
	OnResults      func(ApolloResults)
	OnUsage        func(TurnUsage)
	OnDone         func()
	OnError        func(error)
}

// StreamStats counts what a stream carried.
type StreamStats struct {
	Frames          int
	MalformedFrames int
	UnknownFrames   int
}

// StreamTurn posts one turn and dispatches its frames to h until a done or
// error frame arrives, the connection ends, or ctx is done. The returned
// error is the one passed to OnError, nil after OnDone, or ctx.Err() when
// the caller cancelled. Invalid requests are rejected before any network
// call and without invoking handlers.
func (c *Client) StreamTurn(ctx context.Context, turn TurnRequest, h Handlers) (StreamStats, error) {
	var stats StreamStats

	if strings.TrimSpace(turn.SessionID) == "" {
		return stats, ErrEmptySession
	}
	if strings.TrimSpace(turn.Message) == "" {
		return stats, ErrEmptyMessage
	}

	endpoint, err := c.endpoint(sessionsPath, turn.SessionID, "stream")
	if err != nil {
		return stats, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, turn)
	if err != nil {
		return stats, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	d := &dispatcher{ctx: ctx, h: h, stats: &stats}

	logDebug(ctx, "turn stream request",
		slog.String("endpoint", endpoint),
		slog.Int("message_length", len(turn.Message)),
		slog.Int("file_content_length", len(turn.FileContent)),
		slog.String("mode", string(turn.Mode)))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := d.contextErr(); ctxErr != nil {
			return stats, ctxErr
		}
		return stats, d.fail(fmt.Errorf("failed to open turn stream: %w", wrapIfTransient(err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, d.fail(responseError(ctx, req, resp))
	}

	err = decodeFrames(ctx, resp.Body, d.dispatch)
	if d.terminated {
		return stats, d.err
	}
	if ctxErr := d.contextErr(); ctxErr != nil {
		return stats, ctxErr
	}
	if err != nil {
		return stats, d.fail(fmt.Errorf("failed to read turn stream: %w", wrapIfTransient(err)))
	}
	return stats, d.fail(&TransientError{Err: ErrStreamClosed})
}

type dispatcher struct {
	ctx        context.Context
	h          Handlers
	stats      *StreamStats
	terminated bool
	err        error
}

// contextErr reports caller cancellation. A deadline is turned into a turn
// failure so it reaches OnError like any other abnormal end.
func (d *dispatcher) contextErr() error {
	err := d.ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !d.terminated {
		d.fail(fmt.Errorf("%w: %w", ErrTurnTimeout, err))
	}
	if d.terminated {
		return d.err
	}
	return err
}

func (d *dispatcher) fail(err error) error {
	if d.terminated {
		return d.err
	}
	d.terminated = true
	d.err = err
	if !errors.Is(err, context.Canceled) {
		logError(d.ctx, "turn stream failed", slog.String("error", err.Error()))
	}
	if d.h.OnError != nil {
		d.h.OnError(err)
	}
	return err
}

// dispatch handles one frame payload and reports whether the stream is over.
func (d *dispatcher) dispatch(payload string) bool {
	if d.ctx.Err() != nil {
		return true
	}

	var f Frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil || f.Type == "" {
		d.stats.MalformedFrames++
		logDebug(d.ctx, "skipping malformed frame",
			slog.String("payload", truncateSnippet(payload, 256)),
			slog.Int("malformed_frames", d.stats.MalformedFrames))
		return false
	}
	d.stats.Frames++
	logTrace(d.ctx, "turn frame", slog.String("type", f.Type), slog.Int("bytes", len(payload)))

	h := d.h
	switch f.Type {
	case FrameText:
		if h.OnText != nil {
			h.OnText(f.Content)
		}
	case FrameToolStart:
		if h.OnToolStart != nil {
			h.OnToolStart(f.Tool, f.Input)
		}
	case FrameToolComplete:
		if h.OnToolComplete != nil {
			h.OnToolComplete(f.Tool, f.Summary)
		}
	case FrameToolError:
		if h.OnToolError != nil {
			h.OnToolError(f.Tool, errorText(f))
		}
	case FrameApolloResults:
		var results ApolloResults
		if err := json.Unmarshal(f.Data, &results); err != nil {
			d.stats.Frames--
			d.stats.MalformedFrames++
			logDebug(d.ctx, "skipping malformed results frame", slog.String("error", err.Error()))
			return false
		}
		if h.OnResults != nil {
			h.OnResults(results)
		}
	case FrameUsage:
		if h.OnUsage != nil {
			h.OnUsage(TurnUsage{InputTokens: f.InputTokens, OutputTokens: f.OutputTokens})
		}
	case FrameDone:
		d.terminated = true
		logDebug(d.ctx, "turn stream completed",
			slog.Int("frames", d.stats.Frames),
			slog.Int("malformed_frames", d.stats.MalformedFrames))
		if h.OnDone != nil {
			h.OnDone()
		}
		return true
	case FrameError:
		d.fail(&ProtocolError{Message: errorText(f)})
		return true
	default:
		d.stats.UnknownFrames++
		logDebug(d.ctx, "ignoring unknown frame type", slog.String("type", f.Type))
	}
	return false
}

func errorText(f Frame) string {
	switch {
	case strings.TrimSpace(f.Content) != "":
		return f.Content
	case f.Error != nil:
		return stringify(f.Error)
	default:
		return f.Message
	}
}

// decodeFrames reads an event stream from r and hands each frame's data to
// onFrame until it returns true. Data lines of one frame are joined with a
// newline; comment lines and other SSE fields are ignored.
func decodeFrames(ctx context.Context, r io.Reader, onFrame func(string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultScannerCapacity)

	var data []string
	flush := func() bool {
		if len(data) == 0 {
			return false
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		return onFrame(payload)
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			if flush() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, dataPrefix):
			data = append(data, strings.TrimPrefix(line[len(dataPrefix):], " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
