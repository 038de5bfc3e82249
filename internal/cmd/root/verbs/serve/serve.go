package serve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs"
	"github.com/prospectr/prospectctl/internal/config"
	"github.com/prospectr/prospectctl/internal/meta"
	"github.com/prospectr/prospectctl/internal/server"
	"github.com/prospectr/prospectctl/internal/util/normalizers"
)

const (
	Verb = verbs.Serve

	listenFlagName       = "listen"
	upstreamFlagName     = "upstream"
	cookieTTLFlagName    = "cookie-ttl"
	secureCookieFlagName = "secure-cookie"
	originsFlagName      = "allowed-origins"
	envFileFlagName      = "env-file"
	defaultEnvFile       = ".env"
)

var (
	serveLong = normalizers.LongDesc(fmt.Sprintf(`
	Run the auth gateway in front of the prospecting API. Browsers and the
	CLI log in with the shared password and receive a signed %s cookie.
	Any /api request without a valid cookie is rejected before it reaches
	the upstream.

	The password and signing secret are read from the profile environment,
	for example %s_SERVE_PASSWORD and %[2]s_SERVE_SECRET, or from the env file.`,
		meta.SessionCookieName, config.ProfileEnvPrefix("default")))
	serveExamples = normalizers.Examples(fmt.Sprintf(`
	# Proxy a local API
	%[1]s serve --upstream http://127.0.0.1:8000

	# Serve a browser frontend on another origin over HTTPS
	%[1]s serve --upstream http://api:8000 --secure-cookie --allowed-origins https://app.example.com
	`, meta.CLIName))
)

func NewServeCmd() (*cobra.Command, error) {
	c := &cobra.Command{
		Use:     Verb.String(),
		Short:   "Run the auth gateway",
		Long:    serveLong,
		Example: serveExamples,
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			return bindFlags(c, args)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	f := c.Flags()
	f.String(listenFlagName, common.DefaultServeListen,
		fmt.Sprintf("Address to listen on.\n- Config path: [ %s ]", common.ServeListenConfigPath))
	f.String(upstreamFlagName, "",
		fmt.Sprintf("Base URL of the prospecting API.\n- Config path: [ %s ]", common.ServeUpstreamConfigPath))
	f.String(cookieTTLFlagName, common.DefaultServeCookieTTL,
		fmt.Sprintf("Lifetime of an issued session cookie.\n- Config path: [ %s ]", common.ServeCookieTTLConfigPath))
	f.Bool(secureCookieFlagName, false,
		fmt.Sprintf("Mark the session cookie Secure.\n- Config path: [ %s ]", common.ServeSecureCookieConfigPath))
	f.StringSlice(originsFlagName, nil,
		fmt.Sprintf("Browser origins allowed to call the gateway.\n- Config path: [ %s ]", common.ServeOriginsConfigPath))
	f.String(envFileFlagName, defaultEnvFile, "Env file loaded before reading configuration, if it exists.")
	return c, nil
}

var flagConfigPaths = map[string]string{
	listenFlagName:       common.ServeListenConfigPath,
	upstreamFlagName:     common.ServeUpstreamConfigPath,
	cookieTTLFlagName:    common.ServeCookieTTLConfigPath,
	secureCookieFlagName: common.ServeSecureCookieConfigPath,
	originsFlagName:      common.ServeOriginsConfigPath,
}

func bindFlags(c *cobra.Command, args []string) error {
	cfg, err := cmd.BuildHelper(c, args).GetConfig()
	if err != nil {
		return err
	}
	for name, path := range flagConfigPaths {
		if err := cfg.BindFlag(path, c.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	envFile, _ := c.Flags().GetString(envFileFlagName)
	return loadEnvFile(envFile)
}

// loadEnvFile exports the file's variables without overriding ones already
// set. A missing file is only an error when it was named explicitly.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == defaultEnvFile {
		return nil
	}
	if err != nil {
		return &cmd.ConfigurationError{Err: fmt.Errorf("loading env file %s: %w", path, err)}
	}
	return nil
}

func buildConfig(cfg config.Hook) (server.Config, error) {
	ttl := cfg.GetDurationOrElse(common.ServeCookieTTLConfigPath, 0)
	if ttl == 0 {
		d, err := time.ParseDuration(common.DefaultServeCookieTTL)
		if err != nil {
			return server.Config{}, err
		}
		ttl = d
	}
	sc := server.Config{
		Listen:         strings.TrimSpace(cfg.GetString(common.ServeListenConfigPath)),
		Upstream:       strings.TrimSpace(cfg.GetString(common.ServeUpstreamConfigPath)),
		Password:       cfg.GetString(common.ServePasswordConfigPath),
		Secret:         cfg.GetString(common.ServeSecretConfigPath),
		CookieTTL:      ttl,
		SecureCookie:   cfg.GetBool(common.ServeSecureCookieConfigPath),
		AllowedOrigins: cfg.GetStringSlice(common.ServeOriginsConfigPath),
	}
	if sc.Listen == "" {
		sc.Listen = common.DefaultServeListen
	}
	if sc.Upstream == "" {
		return server.Config{}, fmt.Errorf("an upstream is required, set --%s or %s",
			upstreamFlagName, common.ServeUpstreamConfigPath)
	}
	return sc, nil
}

func isLoopback(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
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

	sc, err := buildConfig(cfg)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	srv, err := server.New(sc, logger.With(slog.String("component", "gateway")))
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	if !sc.SecureCookie && !isLoopback(sc.Listen) {
		logger.Warn("serving a non-loopback address without --secure-cookie", slog.String("listen", sc.Listen))
	}

	fmt.Fprintf(helper.GetStreams().ErrOut, "%s gateway on http://%s -> %s\n", meta.CLIName, sc.Listen, sc.Upstream)
	if err := srv.Start(helper.GetContext()); err != nil {
		return cmd.PrepareExecutionError("gateway stopped", err, helper.GetCmd(), "listen", sc.Listen)
	}
	return nil
}
