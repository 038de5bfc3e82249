package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	chatpkg "github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/chat/render"
	"github.com/prospectr/prospectctl/internal/chat/session"
	"github.com/prospectr/prospectctl/internal/chat/storage"
	"github.com/prospectr/prospectctl/internal/chat/tui"
	"github.com/prospectr/prospectctl/internal/cmd"
	cmdcommon "github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/cmd/output"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs"
	"github.com/prospectr/prospectctl/internal/config"
	"github.com/prospectr/prospectctl/internal/meta"
	"github.com/prospectr/prospectctl/internal/theme"
	"github.com/prospectr/prospectctl/internal/util"
	"github.com/prospectr/prospectctl/internal/util/normalizers"
)

const (
	Verb = verbs.Chat

	sessionFlagName = "session"
	titleFlagName   = "title"
	attachFlagName  = "attach"
	askFlagName     = "ask"
	rowsFlagName    = "rows"
)

var (
	chatShort = "Chat with the prospecting assistant"
	chatLong  = normalizers.LongDesc(`
	Start an interactive chat with the prospecting assistant, or send a single
	message with --ask and print the reply.

	Without --session a new session is created. Replies stream as they are
	generated; people and company search results are shown below the reply.`)
	chatExamples = normalizers.Examples(fmt.Sprintf(`
	# Start an interactive chat in a new session
	%[1]s chat

	# Continue an existing session
	%[1]s chat --session 3f2a9c1e-8d4b-4c1a-9e2f-5b6c7d8e9f01

	# Ask once and print the reply
	%[1]s chat --ask "Find heads of growth at Series B fintechs in Berlin"

	# Attach a brief and ask about it
	%[1]s chat --attach brief.pdf --ask "Draft an ICP from this brief"
	`, meta.CLIName))
)

func NewChatCmd() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:     Verb.String(),
		Short:   chatShort,
		Long:    chatLong,
		Example: chatExamples,
		Args:    validateArgs,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			return bindFlags(c, args)
		},
		RunE: func(c *cobra.Command, args []string) error {
			helper := cmd.BuildHelper(c, args)
			ask, err := c.Flags().GetBool(askFlagName)
			if err != nil {
				return err
			}
			if ask {
				return runAsk(helper, strings.Join(args, " "))
			}
			return runInteractive(helper)
		},
	}

	if err := addFlags(command); err != nil {
		return nil, err
	}
	return command, nil
}

func addFlags(command *cobra.Command) error {
	flags := command.Flags()
	flags.StringP(sessionFlagName, "s", "", "Id of the session to continue. A new session is created when empty.")
	flags.String(titleFlagName, "", "Title for a newly created session.")
	flags.String(attachFlagName, "", "Document whose extracted text is sent with the first message.")
	flags.BoolP(askFlagName, "a", false, "Send the arguments as one message, print the reply and exit.")
	flags.Int(rowsFlagName, render.DefaultResultRows, "Maximum number of result rows printed after a reply.")

	mode := cmd.NewEnum(cmdcommon.ChatModes, cmdcommon.DefaultChatMode)
	flags.Var(mode, cmdcommon.ChatModeFlagName,
		fmt.Sprintf(`Tools the assistant may use.
- Config path: [ %s ]
- Allowed    : [ %s ]`, cmdcommon.ChatModeConfigPath, strings.Join(mode.Allowed, "|")))
	flags.String(cmdcommon.ClientTagFlagName, "",
		fmt.Sprintf(`Client tag stored on new sessions.
- Config path: [ %s ]`, cmdcommon.ClientTagConfigPath))
	flags.String(cmdcommon.TurnTimeoutFlagName, cmdcommon.DefaultTurnTimeout,
		fmt.Sprintf(`Longest a single reply may take, as a duration.
- Config path: [ %s ]`, cmdcommon.TurnTimeoutConfigPath))
	return cmd.RegisterEnumCompletion(command, cmdcommon.ChatModeFlagName, mode)
}

func bindFlags(c *cobra.Command, args []string) error {
	cfg, err := cmd.BuildHelper(c, args).GetConfig()
	if err != nil {
		return err
	}
	for flag, path := range map[string]string{
		cmdcommon.ChatModeFlagName:    cmdcommon.ChatModeConfigPath,
		cmdcommon.ClientTagFlagName:   cmdcommon.ClientTagConfigPath,
		cmdcommon.TurnTimeoutFlagName: cmdcommon.TurnTimeoutConfigPath,
	} {
		if err := cfg.BindFlag(path, c.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func validateArgs(c *cobra.Command, args []string) error {
	ask, err := c.Flags().GetBool(askFlagName)
	if err != nil {
		return err
	}
	if ask {
		return cobra.MinimumNArgs(1)(c, args)
	}
	return cobra.NoArgs(c, args)
}

// chatRun is what both modes need: the client, a manager with an active
// session and the resolved settings.
type chatRun struct {
	cfg     config.Hook
	logger  *slog.Logger
	client  *chatpkg.Client
	manager *session.Manager
	mode    chatpkg.Mode
	upload  *chatpkg.Upload
}

func prepare(helper cmd.Helper) (*chatRun, error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return nil, err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return nil, err
	}
	bi, err := helper.GetBuildInfo()
	if err != nil {
		return nil, err
	}
	flags := helper.GetCmd().Flags()

	mode, err := ParseMode(cfg.GetString(cmdcommon.ChatModeConfigPath))
	if err != nil {
		return nil, &cmd.ConfigurationError{Err: err}
	}
	sessionID, _ := flags.GetString(sessionFlagName)
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" && !util.IsValidUUID(sessionID) {
		return nil, &cmd.ConfigurationError{Err: fmt.Errorf("--%s %q is not a session id", sessionFlagName, sessionID)}
	}

	client, err := helper.GetChatClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	journal := storage.NewJournal(filepath.Dir(cfg.GetPath()), bi.Version)
	manager := session.NewManager(client, session.Options{
		TurnTimeout: cfg.GetDurationOrElse(cmdcommon.TurnTimeoutConfigPath, session.DefaultTurnTimeout),
		Recorder:    journal,
	})

	run := &chatRun{cfg: cfg, logger: logger, client: client, manager: manager, mode: mode}

	ctx := helper.GetContext()
	if path, _ := flags.GetString(attachFlagName); strings.TrimSpace(path) != "" {
		up, err := client.UploadFile(ctx, path)
		if err != nil {
			return nil, cmd.PrepareExecutionError("failed to upload attachment", err, helper.GetCmd(), "path", path)
		}
		run.upload = up
	}

	if sessionID != "" {
		if _, err := manager.LoadSession(ctx, sessionID); err != nil {
			return nil, cmd.PrepareExecutionError("failed to load session", err, helper.GetCmd(),
				"session_id", sessionID)
		}
	} else {
		title, _ := flags.GetString(titleFlagName)
		created, err := manager.CreateSession(ctx, chatpkg.CreateSessionRequest{
			Title:     strings.TrimSpace(title),
			ClientTag: strings.TrimSpace(cfg.GetString(cmdcommon.ClientTagConfigPath)),
		})
		if err != nil {
			return nil, cmd.PrepareExecutionError("failed to create session", err, helper.GetCmd())
		}
		logger.Info("session created", slog.String("session_id", created.ID))
	}

	return run, nil
}

// ParseMode maps a configured mode name to a chat mode.
func ParseMode(s string) (chatpkg.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(chatpkg.ModeProspecting):
		return chatpkg.ModeProspecting, nil
	case string(chatpkg.ModeAll):
		return chatpkg.ModeAll, nil
	default:
		return "", fmt.Errorf("invalid chat mode %q, must be one of %v", s, cmdcommon.ChatModes)
	}
}

func runInteractive(helper cmd.Helper) error {
	streams := helper.GetStreams()
	if !streams.IsInteractive() {
		return &cmd.ConfigurationError{
			Err: fmt.Errorf("interactive chat needs a terminal, use --%s to send a single message", askFlagName),
		}
	}

	run, err := prepare(helper)
	if err != nil {
		return err
	}
	bi, _ := helper.GetBuildInfo()

	err = tui.Run(helper.GetContext(), streams, tui.Options{
		Manager:   run.manager,
		Mode:      run.mode,
		Upload:    run.client.UploadFile,
		UseColor:  output.UseColor(run.cfg, streams.Out),
		Palette:   theme.FromContext(helper.GetContext()),
		Version:   bi.Version,
		ClientTag: run.cfg.GetString(cmdcommon.ClientTagConfigPath),
		Pending:   run.upload,
	})
	if err != nil {
		return cmd.PrepareExecutionErrorFromErr(helper, err)
	}
	return nil
}

// AskResult is the structured output of a single --ask turn.
type AskResult struct {
	SessionID string                 `json:"session_id"           yaml:"session_id"`
	Reply     string                 `json:"reply"                yaml:"reply"`
	Results   *chatpkg.ApolloResults `json:"results,omitempty"    yaml:"results,omitempty"`
	TurnUsage *chatpkg.TurnUsage     `json:"turn_usage,omitempty" yaml:"turn_usage,omitempty"`
	Usage     chatpkg.Usage          `json:"usage"                yaml:"usage"`
}

func runAsk(helper cmd.Helper, message string) error {
	run, err := prepare(helper)
	if err != nil {
		return err
	}
	format, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	streams := helper.GetStreams()
	useColor := output.UseColor(run.cfg, streams.Out)

	if format == cmdcommon.TEXT {
		live := &livePrinter{out: streams.Out, status: streams.ErrOut}
		run.manager.Store().OnChange(live.observe)
	}

	var fileContent string
	if run.upload != nil {
		fileContent = run.upload.Content
	}

	ctx := helper.GetContext()
	_, err = run.manager.SendMessage(ctx, message, fileContent, run.mode)
	if errors.Is(err, session.ErrTurnCancelled) || ctx.Err() != nil {
		return cmd.PrepareExecutionErrorMsg(helper, "reply cancelled")
	}
	if err != nil {
		return cmd.PrepareExecutionError("reply failed", err, helper.GetCmd(),
			"session_id", run.manager.ActiveID())
	}

	state := run.manager.Store().Snapshot()
	result := AskResult{
		SessionID: run.manager.ActiveID(),
		Reply:     state.LastAssistant(),
		Results:   state.Results,
		TurnUsage: state.TurnUsage,
	}
	if state.Session != nil {
		result.Usage = state.Session.Usage
	}

	rows, _ := helper.GetCmd().Flags().GetInt(rowsFlagName)
	return output.Print(helper, result, func(out io.Writer) error {
		return printAskText(out, result, rows, useColor)
	})
}

// printAskText finishes the streamed reply with the results table and a
// usage line.
func printAskText(out io.Writer, result AskResult, rows int, useColor bool) error {
	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}
	if result.Results != nil {
		table := render.Results(result.Results, theme.Current(), render.Options{NoColor: !useColor}, rows)
		if _, err := fmt.Fprintf(out, "\n%s\n", table); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "\nsession %s · messages: %d · cost: $%.4f · credits: %d\n",
		util.AbbreviateUUID(result.SessionID), result.Usage.MessageCount, result.Usage.TotalCostUSD, result.Usage.APICredits)
	return err
}

// livePrinter writes assistant text as it streams and tool activity to the
// status writer. It runs as a store observer and must not block.
type livePrinter struct {
	out    io.Writer
	status io.Writer

	printed int
	tool    string
}

func (p *livePrinter) observe(st session.State) {
	if !st.IsStreaming || st.Session == nil || len(st.Session.Messages) == 0 {
		return
	}
	switch {
	case st.CurrentTool == nil:
		p.tool = ""
	case st.CurrentTool.Tool != p.tool:
		p.tool = st.CurrentTool.Tool
		fmt.Fprintln(p.status, render.ToolStatus(st.CurrentTool))
	}

	last := st.Session.Messages[len(st.Session.Messages)-1]
	if last.Role != chatpkg.RoleAssistant {
		p.printed = 0
		return
	}
	if len(last.Content) > p.printed {
		fmt.Fprint(p.out, last.Content[p.printed:])
		p.printed = len(last.Content)
	}
}
