package chat

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrStreamClosed reports a stream that ended without a done or error frame.
	ErrStreamClosed = errors.New("stream closed before turn completed")
	ErrEmptySession = errors.New("session id cannot be empty")
	ErrEmptyMessage = errors.New("message cannot be empty")
)

// TransientError wraps failures that are likely caused by temporary transport issues.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransientError reports whether err (or any wrapped error) is transient.
func IsTransientError(err error) bool {
	var terr *TransientError
	return errors.As(err, &terr)
}

// APIError is a non-success HTTP response from the API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Detail)
}

// Unauthorized reports whether the gateway rejected the session cookie.
func (e *APIError) Unauthorized() bool {
	return e.Status == 401 || e.Status == 403
}

// ProtocolError carries the message of an error frame sent by the server.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return "server reported an error"
	}
	return e.Message
}

func wrapIfTransient(err error) error {
	if err == nil || IsTransientError(err) {
		return err
	}
	if isLikelyTransient(err) {
		return &TransientError{Err: err}
	}
	return err
}

// isLikelyTransient accepts dropped or refused connections and timeouts.
// TLS failures and unknown hosts are permanent.
func isLikelyTransient(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout)
}

// statusIsTransient marks gateway and availability failures as retryable.
func statusIsTransient(status int) bool {
	switch status {
	case 429, 502, 503, 504:
		return true
	}
	return false
}
