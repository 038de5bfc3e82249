package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/prospectr/prospectctl/internal/meta"
)

const (
	sessionsPath = "api/chat/sessions"
	uploadPath   = "api/chat/upload"

	errorSnippetLimit = 1 << 20
)

// Client talks to the chat API, directly or through the auth gateway.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	// SessionCookie is replayed as the gateway session cookie when set.
	SessionCookie string
	UserAgent     string
}

// NewClient returns a client for baseURL. A nil httpClient uses a client
// without an overall timeout, since turn streams are long lived.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		HTTPClient: httpClient,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		UserAgent:  meta.CLIName,
	}
}

func (c *Client) endpoint(segments ...string) (string, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return "", fmt.Errorf("api base url is not configured")
	}
	endpoint, err := url.JoinPath(c.BaseURL, segments...)
	if err != nil {
		return "", fmt.Errorf("failed to construct endpoint: %w", err)
	}
	return endpoint, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.decorate(req)
	return req, nil
}

func (c *Client) decorate(req *http.Request) {
	ua := c.UserAgent
	if ua == "" {
		ua = meta.CLIName
	}
	req.Header.Set("User-Agent", ua)
	if c.SessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: meta.SessionCookieName, Value: c.SessionCookie})
	}
}

// do executes req and decodes a JSON response into out when the status
// matches want.
func (c *Client) do(req *http.Request, want int, out any) error {
	ctx := req.Context()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		err = wrapIfTransient(err)
		logError(ctx, "chat api request failed",
			slog.String("method", req.Method),
			slog.String("endpoint", req.URL.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return responseError(ctx, req, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// responseError converts a non-success response into an *APIError, pulling
// the FastAPI style "detail" field out of JSON bodies.
func responseError(ctx context.Context, req *http.Request, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
	detail := strings.TrimSpace(string(snippet))

	var payload struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(snippet, &payload) == nil {
		switch {
		case payload.Detail != nil:
			detail = stringify(payload.Detail)
		case payload.Message != "":
			detail = payload.Message
		case payload.Error != nil:
			detail = stringify(payload.Error)
		}
	}

	logError(ctx, "chat api unexpected status",
		slog.String("method", req.Method),
		slog.String("endpoint", req.URL.String()),
		slog.Int("status", resp.StatusCode),
		slog.String("snippet", truncateSnippet(detail, 512)))

	var err error = &APIError{Status: resp.StatusCode, Detail: detail}
	if statusIsTransient(resp.StatusCode) {
		err = &TransientError{Err: err}
	}
	return err
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"message", "msg", "detail", "error"} {
			if s, ok := t[key].(string); ok {
				return s
			}
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func truncateSnippet(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
