package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajg/form"

	"github.com/prospectr/prospectctl/internal/meta"
	"github.com/prospectr/prospectctl/internal/util"
)

// Credentials is the session cookie a CLI profile obtained through login.
type Credentials struct {
	BaseURL    string    `json:"base_url"`
	Cookie     string    `json:"cookie"`
	ExpiresAt  time.Time `json:"expires_at"`
	ReceivedAt time.Time `json:"received_at"`
}

func (c *Credentials) IsExpired() bool {
	return c.ExpiresAt.IsZero() || !time.Now().Before(c.ExpiresAt)
}

// BuildCredentialFilePath returns where the profile's session is stored.
func BuildCredentialFilePath(configDir, profile string) string {
	return filepath.Join(configDir, fmt.Sprintf(".%s-session.json", profile))
}

func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return &creds, nil
}

func SaveCredentials(path string, creds *Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	if err := util.InitDir(path, 0o700); err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data, 0o600)
}

// DeleteCredentials removes the file and reports whether one existed.
func DeleteCredentials(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type loginForm struct {
	Password string `form:"password"`
}

// Login posts the password to the gateway and returns the issued cookie.
func Login(ctx context.Context, httpClient *http.Client, baseURL, password string) (*Credentials, error) {
	values, err := form.EncodeToValues(loginForm{Password: password})
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(baseURL, "/") + LoginPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// The gateway redirects after a form login; the cookie is on the 303.
	client := *httpClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errors.New("invalid password")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	for _, c := range resp.Cookies() {
		if c.Name != meta.SessionCookieName || c.Value == "" {
			continue
		}
		exp := c.Expires
		if c.MaxAge > 0 {
			exp = time.Now().Add(time.Duration(c.MaxAge) * time.Second)
		}
		return &Credentials{
			BaseURL:    baseURL,
			Cookie:     c.Value,
			ExpiresAt:  exp.UTC(),
			ReceivedAt: time.Now().UTC(),
		}, nil
	}
	return nil, fmt.Errorf("login response did not set the %s cookie", meta.SessionCookieName)
}

// Logout asks the gateway to clear the session. The local file is the
// caller's concern.
func Logout(ctx context.Context, httpClient *http.Client, baseURL, cookie string) error {
	endpoint := strings.TrimRight(baseURL, "/") + LogoutPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: meta.SessionCookieName, Value: cookie})

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("logout failed with status %d", resp.StatusCode)
	}
	return nil
}
