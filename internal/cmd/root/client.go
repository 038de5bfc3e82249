package root

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/prospectr/prospectctl/internal/auth"
	"github.com/prospectr/prospectctl/internal/build"
	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/config"
	"github.com/prospectr/prospectctl/internal/meta"
)

// newChatClientFactory returns a factory that points the chat client at the
// profile's base URL and replays the session cookie saved by login.
func newChatClientFactory(bi *build.Info) func(config.Hook, *slog.Logger) (*chat.Client, error) {
	return func(cfg config.Hook, logger *slog.Logger) (*chat.Client, error) {
		baseURL := strings.TrimSpace(cfg.GetString(common.BaseURLConfigPath))
		if baseURL == "" {
			baseURL = common.DefaultBaseURL
		}

		client := chat.NewClient(baseURL, chat.NewLoggingHTTPClient(logger))
		client.UserAgent = bi.UserAgent(meta.CLIName)

		path := auth.BuildCredentialFilePath(filepath.Dir(cfg.GetPath()), cfg.GetProfile())
		creds, err := auth.LoadCredentials(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("no stored session, calling the API anonymously", slog.String("path", path))
		case err != nil:
			return nil, err
		case creds.IsExpired():
			logger.Info("stored session has expired, run login again", slog.Time("expired_at", creds.ExpiresAt))
		case strings.TrimRight(creds.BaseURL, "/") != strings.TrimRight(baseURL, "/"):
			logger.Debug("stored session belongs to another base url",
				slog.String("session_base_url", creds.BaseURL),
				slog.String("base_url", baseURL))
		default:
			client.SessionCookie = creds.Cookie
		}
		return client, nil
	}
}
