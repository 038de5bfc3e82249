package logout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/prospectr/prospectctl/internal/auth"
	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/cmd/output"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs"
	"github.com/prospectr/prospectctl/internal/util/normalizers"
)

const Verb = verbs.Logout

// Result reports what logout removed.
type Result struct {
	Profile    string `json:"profile"     yaml:"profile"`
	Removed    bool   `json:"removed"     yaml:"removed"`
	ServerSide bool   `json:"server_side" yaml:"server_side"`
}

func NewLogoutCmd() (*cobra.Command, error) {
	c := &cobra.Command{
		Use:   Verb.String(),
		Short: "Log out of the gateway",
		Long: normalizers.LongDesc(`
	Clear the gateway session and delete the cookie stored for the profile.
	The local cookie is removed even when the gateway cannot be reached.`),
		Args: cobra.NoArgs,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			return nil
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}
	return c, nil
}

func run(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}

	result := Result{Profile: cfg.GetProfile()}
	path := auth.BuildCredentialFilePath(filepath.Dir(cfg.GetPath()), cfg.GetProfile())

	creds, err := auth.LoadCredentials(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		logger.Warn("stored session is unreadable, removing it", slog.String("path", path), slog.Any("error", err))
	case creds.IsExpired():
		logger.Debug("stored session already expired", slog.Time("expires_at", creds.ExpiresAt))
	default:
		err := auth.Logout(helper.GetContext(), chat.NewLoggingHTTPClient(logger), creds.BaseURL, creds.Cookie)
		if err != nil {
			logger.Warn("gateway logout failed", slog.String("base_url", creds.BaseURL), slog.Any("error", err))
		} else {
			result.ServerSide = true
		}
	}

	result.Removed, err = auth.DeleteCredentials(path)
	if err != nil {
		return cmd.PrepareExecutionError("failed to remove the stored session", err, helper.GetCmd(), "path", path)
	}

	return output.Print(helper, result, func(out io.Writer) error {
		msg := fmt.Sprintf("Logged out (profile %s)", result.Profile)
		if !result.Removed {
			msg = fmt.Sprintf("No stored session for profile %s", result.Profile)
		}
		_, err := fmt.Fprintln(out, msg)
		return err
	})
}
