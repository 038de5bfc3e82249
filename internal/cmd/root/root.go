package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"

	"github.com/prospectr/prospectctl/internal/build"
	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/cmd/common"
	chatverb "github.com/prospectr/prospectctl/internal/cmd/root/verbs/chat"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs/login"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs/logout"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs/serve"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs/session"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs/upload"
	"github.com/prospectr/prospectctl/internal/cmd/root/version"
	"github.com/prospectr/prospectctl/internal/config"
	"github.com/prospectr/prospectctl/internal/iostreams"
	"github.com/prospectr/prospectctl/internal/log"
	"github.com/prospectr/prospectctl/internal/meta"
	"github.com/prospectr/prospectctl/internal/theme"
	"github.com/prospectr/prospectctl/internal/util/normalizers"
)

const defaultProfile = "default"

var rootLong = normalizers.LongDesc(`
	prospectctl is the command line client for the prospecting assistant.

	Chat with the assistant to search for people and companies, manage chat
	sessions, and run the authenticating gateway in front of the API.`)

// globals holds the state shared by the root command hooks for one run.
type globals struct {
	streams   *iostreams.IOStreams
	buildInfo *build.Info

	configFilePath string
	profile        string
	outputFormat   *cmd.FlagEnum
	logLevel       *cmd.FlagEnum
	colorMode      *cmd.FlagEnum

	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCmd(g *globals) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           meta.CLIName,
		Short:         fmt.Sprintf("%s talks to the prospecting assistant", meta.CLIName),
		Long:          rootLong,
		SilenceErrors: false,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return g.initialize(c)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return g.close()
		},
	}

	// parse flags anywhere on the command line, not just after the verb
	rootCmd.TraverseChildren = true

	defaultConfigFile, _ := config.GetDefaultConfigFilePath()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configFilePath, common.ConfigFilePathFlagName, defaultConfigFile,
		"Path to the configuration file to load.")
	pf.StringVarP(&g.profile, common.ProfileFlagName, common.ProfileFlagShort, defaultProfile,
		fmt.Sprintf(`Configuration profile to use.
- Env: [ %s_PROFILE ]`, strings.ToUpper(meta.CLIName)))

	pf.VarP(g.outputFormat, common.OutputFlagName, common.OutputFlagShort,
		fmt.Sprintf(`Configures the output format.
- Config path: [ %s ]
- Allowed    : [ %s ]`, common.OutputConfigPath, strings.Join(g.outputFormat.Allowed, "|")))
	pf.Var(g.logLevel, common.LogLevelFlagName,
		fmt.Sprintf(`Minimum level written to the log file.
- Config path: [ %s ]
- Allowed    : [ %s ]`, common.LogLevelConfigPath, strings.Join(g.logLevel.Allowed, "|")))
	pf.String(common.LogFileFlagName, "",
		fmt.Sprintf(`Path of the log file. Defaults to logs/%s.log next to the config file.
- Config path: [ %s ]`, meta.CLIName, common.LogFileConfigPath))
	pf.Var(g.colorMode, common.ColorFlagName,
		fmt.Sprintf(`Controls colorized terminal output.
- Config path: [ %s ]
- Allowed    : [ %s ]`, common.ColorConfigPath, strings.Join(g.colorMode.Allowed, "|")))
	pf.String(common.ColorThemeFlagName, theme.DefaultName,
		fmt.Sprintf(`Color theme for the chat UI and tables.
- Config path: [ %s ]
- Allowed    : [ %s ]`, common.ColorThemeConfigPath, strings.Join(theme.Available(), "|")))
	pf.String(common.BaseURLFlagName, common.DefaultBaseURL,
		fmt.Sprintf(`Base URL of the API or gateway.
- Config path: [ %s ]`, common.BaseURLConfigPath))

	return rootCmd
}

func addCommands(g *globals, rootCmd *cobra.Command) error {
	for name, enum := range map[string]*cmd.FlagEnum{
		common.OutputFlagName:   g.outputFormat,
		common.LogLevelFlagName: g.logLevel,
		common.ColorFlagName:    g.colorMode,
	} {
		if err := cmd.RegisterEnumCompletion(rootCmd, name, enum); err != nil {
			return err
		}
	}
	if err := rootCmd.RegisterFlagCompletionFunc(common.ColorThemeFlagName, cmd.CompleteValues(theme.Available()...)); err != nil {
		return err
	}

	rootCmd.AddCommand(version.NewVersionCmd())

	for _, newCmd := range []func() (*cobra.Command, error){
		chatverb.NewChatCmd,
		session.NewSessionCmd,
		upload.NewUploadCmd,
		login.NewLoginCmd,
		logout.NewLogoutCmd,
		serve.NewServeCmd,
	} {
		c, err := newCmd()
		if err != nil {
			return err
		}
		rootCmd.AddCommand(c)
	}
	return nil
}

// initialize loads the profile's configuration, binds the global flags and
// stores config, logger, theme and client factory on the command context.
func (g *globals) initialize(c *cobra.Command) error {
	root := c.Root()
	if !root.PersistentFlags().Changed(common.ProfileFlagName) {
		if p, ok := os.LookupEnv(strings.ToUpper(meta.CLIName) + "_PROFILE"); ok && p != "" {
			g.profile = p
		}
	}

	defaultConfigFile, err := config.GetDefaultConfigFilePath()
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	cfg, err := config.GetConfig(g.configFilePath, g.profile, defaultConfigFile)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}

	for flag, path := range map[string]string{
		common.OutputFlagName:     common.OutputConfigPath,
		common.LogLevelFlagName:   common.LogLevelConfigPath,
		common.LogFileFlagName:    common.LogFileConfigPath,
		common.ColorFlagName:      common.ColorConfigPath,
		common.ColorThemeFlagName: common.ColorThemeConfigPath,
		common.BaseURLFlagName:    common.BaseURLConfigPath,
	} {
		if err := cfg.BindFlag(path, root.PersistentFlags().Lookup(flag)); err != nil {
			return &cmd.ConfigurationError{Err: err}
		}
	}

	if _, err := common.OutputFormatStringToIota(cfg.GetString(common.OutputConfigPath)); err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	if err := theme.SetCurrent(cfg.GetString(common.ColorThemeConfigPath)); err != nil {
		return &cmd.ConfigurationError{Err: err}
	}

	logFile := strings.TrimSpace(cfg.GetString(common.LogFileConfigPath))
	if logFile == "" {
		logFile = filepath.Join(filepath.Dir(cfg.GetPath()), "logs", meta.CLIName+".log")
	}
	logger, closer, err := log.New(log.Options{
		Level:   cfg.GetString(common.LogLevelConfigPath),
		File:    logFile,
		Console: g.streams.ErrOut,
	})
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	g.logger = logger
	g.logCloser = closer
	logger.Debug("configuration loaded",
		slog.String("profile", cfg.GetProfile()),
		slog.String("config_file", cfg.GetPath()),
		slog.String("command", c.CommandPath()))

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, config.ConfigKey, config.Hook(cfg))
	ctx = context.WithValue(ctx, iostreams.StreamsKey, g.streams)
	ctx = context.WithValue(ctx, build.InfoKey, g.buildInfo)
	ctx = context.WithValue(ctx, log.LoggerKey, logger)
	ctx = context.WithValue(ctx, cmd.ChatClientFactoryKey, cmd.ChatClientFactory(newChatClientFactory(g.buildInfo)))
	ctx = theme.ContextWithPalette(ctx, theme.Current())
	c.SetContext(ctx)
	return nil
}

func (g *globals) close() error {
	if g.logCloser == nil {
		return nil
	}
	err := g.logCloser.Close()
	g.logCloser = nil
	return err
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, s *iostreams.IOStreams, bi *build.Info) int {
	return run(ctx, s, bi, os.Args[1:])
}

func run(ctx context.Context, s *iostreams.IOStreams, bi *build.Info, args []string) int {
	cobra.EnableTraverseRunHooks = true

	g := &globals{
		streams:      s,
		buildInfo:    bi,
		outputFormat: cmd.NewEnum(common.OutputFormats, common.DefaultOutputFormat),
		logLevel:     cmd.NewEnum(common.LogLevels, common.DefaultLogLevel),
		colorMode:    cmd.NewEnum(common.ColorModes, common.DefaultColorMode),
	}
	rootCmd := newRootCmd(g)
	if err := addCommands(g, rootCmd); err != nil {
		fmt.Fprintln(s.ErrOut, err)
		return 1
	}
	rootCmd.SetArgs(args)
	rootCmd.SetIn(s.In)
	rootCmd.SetOut(s.Out)
	rootCmd.SetErr(s.ErrOut)

	err := rootCmd.ExecuteContext(ctx)
	defer g.close()
	if err == nil {
		return 0
	}

	var execErr *cmd.ExecutionError
	if errors.As(err, &execErr) {
		if g.logger != nil {
			g.logger.Debug("command failed", append([]any{"error", execErr.Err}, execErr.Attrs...)...)
		}
		printExecutionError(execErr, g.outputFormat.String(), s.ErrOut)
	}
	return 1
}

func printExecutionError(err *cmd.ExecutionError, format string, out io.Writer) {
	report := err.Report()
	if format == common.TEXT.String() {
		fmt.Fprintf(out, "Error: %s\n", report.Error)
		return
	}
	printer, perr := cli.Format(format, out)
	if perr != nil {
		fmt.Fprintf(out, "Error: %s\n", report.Error)
		return
	}
	defer printer.Flush()
	printer.Print(report)
}
