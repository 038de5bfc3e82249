package login

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/prospectr/prospectctl/internal/auth"
	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/cmd/output"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs"
	"github.com/prospectr/prospectctl/internal/iostreams"
	"github.com/prospectr/prospectctl/internal/meta"
	"github.com/prospectr/prospectctl/internal/util/normalizers"
)

const (
	Verb = verbs.Login

	passwordStdinFlagName = "password-stdin"
)

var (
	loginLong = normalizers.LongDesc(`
	Log in to the gateway started by serve. The session cookie it issues is
	stored per profile and sent with every later command until it expires.`)
	loginExamples = normalizers.Examples(fmt.Sprintf(`
	# Prompt for the password
	%[1]s login --base-url https://prospect.example.com

	# Read the password from a secret manager
	op read op://team/prospect/password | %[1]s login --password-stdin
	`, meta.CLIName))
)

// Result is what login reports; the cookie itself is never printed.
type Result struct {
	BaseURL   string    `json:"base_url"   yaml:"base_url"`
	Profile   string    `json:"profile"    yaml:"profile"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

func NewLoginCmd() (*cobra.Command, error) {
	c := &cobra.Command{
		Use:     Verb.String(),
		Short:   "Log in to the gateway",
		Long:    loginLong,
		Example: loginExamples,
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			return nil
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}
	c.Flags().Bool(passwordStdinFlagName, false, "Read the password from standard input.")
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
	fromStdin, _ := helper.GetCmd().Flags().GetBool(passwordStdinFlagName)

	password, err := readSecret(helper.GetStreams(), fromStdin)
	if err != nil {
		return err
	}

	baseURL := strings.TrimSpace(cfg.GetString(common.BaseURLConfigPath))
	creds, err := auth.Login(helper.GetContext(), chat.NewLoggingHTTPClient(logger), baseURL, password)
	if err != nil {
		return cmd.PrepareExecutionError("login failed", err, helper.GetCmd(), "base_url", baseURL)
	}

	path := auth.BuildCredentialFilePath(filepath.Dir(cfg.GetPath()), cfg.GetProfile())
	if err := auth.SaveCredentials(path, creds); err != nil {
		return cmd.PrepareExecutionError("failed to store the session", err, helper.GetCmd(), "path", path)
	}
	logger.Info("logged in", "base_url", baseURL, "expires_at", creds.ExpiresAt)

	result := Result{BaseURL: baseURL, Profile: cfg.GetProfile(), ExpiresAt: creds.ExpiresAt}
	return output.Print(helper, result, func(out io.Writer) error {
		_, err := fmt.Fprintf(out, "Logged in to %s (profile %s), session valid until %s\n",
			result.BaseURL, result.Profile, result.ExpiresAt.Local().Format(time.DateTime))
		return err
	})
}

func readSecret(streams *iostreams.IOStreams, fromStdin bool) (string, error) {
	if fromStdin {
		raw, err := io.ReadAll(io.LimitReader(streams.In, 4096))
		if err != nil {
			return "", err
		}
		return nonEmpty(strings.TrimRight(string(raw), "\r\n"))
	}

	f, ok := streams.In.(*os.File)
	if !ok || !iostreams.IsTerminal(f) {
		return "", &cmd.ConfigurationError{
			Err: fmt.Errorf("no terminal to prompt for the password, use --%s", passwordStdinFlagName),
		}
	}
	fmt.Fprint(streams.ErrOut, "Password: ")
	raw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(streams.ErrOut)
	if err != nil {
		return "", err
	}
	return nonEmpty(string(raw))
}

func nonEmpty(p string) (string, error) {
	if p == "" {
		return "", &cmd.ConfigurationError{Err: errors.New("the password is empty")}
	}
	return p, nil
}
