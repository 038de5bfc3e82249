package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// MaxUploadBytes bounds documents attached to a turn.
const MaxUploadBytes = 10 << 20

// UploadFile sends the file at path to the upload endpoint, which returns
// the text extracted from it.
func (c *Client) UploadFile(ctx context.Context, path string) (*Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxUploadBytes {
		return nil, fmt.Errorf("%s is %d bytes, the upload limit is %d", filepath.Base(path), info.Size(), MaxUploadBytes)
	}
	return c.Upload(ctx, filepath.Base(path), f)
}

// Upload sends r as a multipart file named filename.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*Upload, error) {
	endpoint, err := c.endpoint(uploadPath)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := io.Copy(part, io.LimitReader(r, MaxUploadBytes+1)); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.decorate(req)

	logDebug(ctx, "upload request",
		slog.String("filename", filename),
		slog.Int("payload_bytes", body.Len()))

	var out Upload
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	if out.Filename == "" {
		out.Filename = filename
	}

	logInfo(ctx, "file uploaded",
		slog.String("filename", out.Filename),
		slog.Int("content_length", len(out.Content)))
	return &out, nil
}
