package chat

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// CreateSession creates a session and returns it as the server recorded it.
func (c *Client) CreateSession(ctx context.Context, payload CreateSessionRequest) (*Session, error) {
	endpoint, err := c.endpoint(sessionsPath)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}

	logDebug(ctx, "create session request",
		slog.String("endpoint", endpoint),
		slog.String("client_tag", payload.ClientTag))

	var session Session
	if err := c.do(req, http.StatusCreated, &session); err != nil {
		return nil, err
	}
	normalize(&session)

	logInfo(ctx, "chat session created",
		slog.String("session_id", session.ID),
		slog.String("title", session.Title))
	return &session, nil
}

// GetSession fetches the full, authoritative session record.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptySession
	}
	endpoint, err := c.endpoint(sessionsPath, id)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := c.do(req, http.StatusOK, &session); err != nil {
		return nil, err
	}
	normalize(&session)

	logDebug(ctx, "chat session loaded",
		slog.String("session_id", session.ID),
		slog.Int("message_count", len(session.Messages)),
		slog.Float64("total_cost_usd", session.TotalCostUSD))
	return &session, nil
}

// ListSessions returns sessions ordered by most recent activity.
func (c *Client) ListSessions(ctx context.Context, opts ListOptions) ([]Session, error) {
	endpoint, err := c.endpoint(sessionsPath)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if opts.ClientTag != "" {
		query.Set("client_tag", opts.ClientTag)
	}
	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := c.do(req, http.StatusOK, &sessions); err != nil {
		return nil, err
	}
	for i := range sessions {
		normalize(&sessions[i])
	}

	logInfo(ctx, "chat sessions listed", slog.Int("count", len(sessions)))
	return sessions, nil
}

// ArchiveSession marks a session archived. Sessions are never hard deleted.
func (c *Client) ArchiveSession(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptySession
	}
	endpoint, err := c.endpoint(sessionsPath, id)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return wrapIfTransient(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		logInfo(ctx, "chat session archived", slog.String("session_id", id))
		return nil
	default:
		return responseError(ctx, req, resp)
	}
}

func normalize(s *Session) {
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
}
