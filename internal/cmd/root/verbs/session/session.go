package session

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/chat/render"
	"github.com/prospectr/prospectctl/internal/chat/storage"
	"github.com/prospectr/prospectctl/internal/cmd"
	cmdcommon "github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/cmd/output"
	"github.com/prospectr/prospectctl/internal/cmd/output/jq"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs"
	"github.com/prospectr/prospectctl/internal/meta"
	"github.com/prospectr/prospectctl/internal/theme"
	"github.com/prospectr/prospectctl/internal/util"
	"github.com/prospectr/prospectctl/internal/util/normalizers"
)

const (
	Verb = verbs.Session

	titleFlagName      = "title"
	statusFlagName     = "status"
	limitFlagName      = "limit"
	offsetFlagName     = "offset"
	transcriptFlagName = "transcript"
)

var sessionExamples = normalizers.Examples(fmt.Sprintf(`
	# List active sessions
	%[1]s session list --status active

	# Show one session with its conversation
	%[1]s session get 3f2a9c1e-8d4b-4c1a-9e2f-5b6c7d8e9f01 --transcript

	# Print only the ids of sessions with a draft ICP
	%[1]s session list -o json --jq '.[] | select(.current_icp_draft != null) | .session_uuid' -r
	`, meta.CLIName))

func NewSessionCmd() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:     Verb.String(),
		Aliases: []string{"sessions"},
		Short:   "Manage chat sessions",
		Long: normalizers.LongDesc(`
	Create, inspect and archive chat sessions on the server, and read the
	transcript recorded locally while chatting.`),
		Example: sessionExamples,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			cfg, err := cmd.BuildHelper(c, args).GetConfig()
			if err != nil {
				return err
			}
			return jq.BindFlags(cfg, c.Flags())
		},
	}

	command.AddCommand(newCreateCmd(), newListCmd(), newGetCmd(), newArchiveCmd(), newHistoryCmd())
	return command, nil
}

func withJQ(c *cobra.Command) *cobra.Command {
	jq.AddFlags(c.Flags())
	return c
}

func client(helper cmd.Helper) (*chat.Client, error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return nil, err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return nil, err
	}
	return helper.GetChatClient(cfg, logger)
}

func newCreateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "create",
		Short: "Create an empty session",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runCreate(cmd.BuildHelper(c, args))
		},
	}
	c.Flags().String(titleFlagName, "", "Session title.")
	c.Flags().String(cmdcommon.ClientTagFlagName, "",
		fmt.Sprintf(`Client tag stored on the session.
- Config path: [ %s ]`, cmdcommon.ClientTagConfigPath))
	c.PreRunE = func(c *cobra.Command, args []string) error {
		cfg, err := cmd.BuildHelper(c, args).GetConfig()
		if err != nil {
			return err
		}
		return cfg.BindFlag(cmdcommon.ClientTagConfigPath, c.Flags().Lookup(cmdcommon.ClientTagFlagName))
	}
	return withJQ(c)
}

func runCreate(helper cmd.Helper) error {
	cl, err := client(helper)
	if err != nil {
		return err
	}
	cfg, _ := helper.GetConfig()
	c := helper.GetCmd()
	title, _ := c.Flags().GetString(titleFlagName)

	created, err := cl.CreateSession(helper.GetContext(), chat.CreateSessionRequest{
		Title:     strings.TrimSpace(title),
		ClientTag: strings.TrimSpace(cfg.GetString(cmdcommon.ClientTagConfigPath)),
	})
	if err != nil {
		return cmd.PrepareExecutionError("failed to create session", err, c)
	}
	return output.Print(helper, created, func(out io.Writer) error {
		_, err := fmt.Fprintf(out, "Created session %s\n", created.ID)
		return err
	})
}

func newListCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runList(cmd.BuildHelper(c, args))
		},
	}
	c.Flags().String(cmdcommon.ClientTagFlagName, "", "Only sessions with this client tag.")
	c.Flags().String(statusFlagName, "", "Only sessions with this status (active or archived).")
	c.Flags().Int(limitFlagName, 0, "Maximum number of sessions to return.")
	c.Flags().Int(offsetFlagName, 0, "Number of sessions to skip.")
	return withJQ(c)
}

func runList(helper cmd.Helper) error {
	c := helper.GetCmd()
	opts, err := listOptions(c)
	if err != nil {
		return err
	}
	cl, err := client(helper)
	if err != nil {
		return err
	}
	sessions, err := cl.ListSessions(helper.GetContext(), opts)
	if err != nil {
		return cmd.PrepareExecutionError("failed to list sessions", err, c)
	}
	cfg, _ := helper.GetConfig()
	useColor := output.UseColor(cfg, helper.GetStreams().Out)
	return output.Print(helper, sessions, func(out io.Writer) error {
		_, err := fmt.Fprintln(out, sessionTable(sessions, theme.FromContext(helper.GetContext()), useColor))
		return err
	})
}

func listOptions(c *cobra.Command) (chat.ListOptions, error) {
	tag, _ := c.Flags().GetString(cmdcommon.ClientTagFlagName)
	status, _ := c.Flags().GetString(statusFlagName)
	limit, _ := c.Flags().GetInt(limitFlagName)
	offset, _ := c.Flags().GetInt(offsetFlagName)

	opts := chat.ListOptions{ClientTag: strings.TrimSpace(tag), Limit: limit, Offset: offset}
	switch chat.SessionStatus(strings.ToLower(strings.TrimSpace(status))) {
	case "":
	case chat.StatusActive:
		opts.Status = chat.StatusActive
	case chat.StatusArchived:
		opts.Status = chat.StatusArchived
	default:
		return chat.ListOptions{}, &cmd.ConfigurationError{
			Err: fmt.Errorf("--%s must be %s or %s", statusFlagName, chat.StatusActive, chat.StatusArchived),
		}
	}
	if limit < 0 || offset < 0 {
		return chat.ListOptions{}, &cmd.ConfigurationError{
			Err: fmt.Errorf("--%s and --%s cannot be negative", limitFlagName, offsetFlagName),
		}
	}
	return opts, nil
}

func sessionTable(sessions []chat.Session, pal theme.Palette, useColor bool) string {
	if len(sessions) == 0 {
		return "No sessions."
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("ID", "TITLE", "STATUS", "MESSAGES", "COST", "LAST MESSAGE")
	for _, s := range sessions {
		last := "-"
		if s.LastMessageAt != nil {
			last = s.LastMessageAt.Local().Format(time.DateTime)
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		t.Row(s.ID, title, string(s.Status), fmt.Sprint(s.MessageCount), fmt.Sprintf("$%.4f", s.TotalCostUSD), last)
	}
	if useColor {
		header := pal.ForegroundStyle(theme.ColorPrimary).Bold(true)
		t.StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return lipgloss.NewStyle()
		})
	}
	return t.Render()
}

func newGetCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show a session",
		Args:  verbs.ExactlyOneID,
		RunE: func(c *cobra.Command, args []string) error {
			return runGet(cmd.BuildHelper(c, args))
		},
	}
	c.Flags().Bool(transcriptFlagName, false, "Include the conversation in text output.")
	return withJQ(c)
}

func runGet(helper cmd.Helper) error {
	c := helper.GetCmd()
	id := strings.TrimSpace(helper.GetArgs()[0])
	cl, err := client(helper)
	if err != nil {
		return err
	}
	s, err := cl.GetSession(helper.GetContext(), id)
	if err != nil {
		return cmd.PrepareExecutionError("failed to get session", err, c, "session_id", id)
	}
	withTranscript, _ := c.Flags().GetBool(transcriptFlagName)
	cfg, _ := helper.GetConfig()
	useColor := output.UseColor(cfg, helper.GetStreams().Out)

	return output.Print(helper, s, func(out io.Writer) error {
		summary, err := render.Summary(s)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprint(out, summary); err != nil {
			return err
		}
		if withTranscript {
			_, err = fmt.Fprintf(out, "\n%s\n", render.Transcript(s, render.Options{NoColor: !useColor}))
		}
		return err
	})
}

func newArchiveCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "archive <session-id>",
		Short: "Archive a session",
		Args:  verbs.ExactlyOneID,
		RunE: func(c *cobra.Command, args []string) error {
			return runArchive(cmd.BuildHelper(c, args))
		},
	}
	cmd.AddYesFlag(c.Flags())
	return c
}

func runArchive(helper cmd.Helper) error {
	id := strings.TrimSpace(helper.GetArgs()[0])
	cl, err := client(helper)
	if err != nil {
		return err
	}
	if err := cmd.Confirm(helper, "archive", "session "+id); err != nil {
		return err
	}
	if err := cl.ArchiveSession(helper.GetContext(), id); err != nil {
		return cmd.PrepareExecutionError("failed to archive session", err, helper.GetCmd(), "session_id", id)
	}
	result := map[string]any{"session_uuid": id, "status": chat.StatusArchived}
	return output.Print(helper, result, func(out io.Writer) error {
		_, err := fmt.Fprintf(out, "Archived session %s\n", id)
		return err
	})
}

// newHistoryCmd reads the transcript recorded locally by chat, including
// tool activity the server does not keep.
func newHistoryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the locally recorded transcript of a session",
		Args:  verbs.ExactlyOneID,
		RunE: func(c *cobra.Command, args []string) error {
			return runHistory(cmd.BuildHelper(c, args))
		},
	}
	return withJQ(c)
}

func runHistory(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	bi, err := helper.GetBuildInfo()
	if err != nil {
		return err
	}
	id := strings.TrimSpace(helper.GetArgs()[0])
	events, err := storage.NewJournal(filepath.Dir(cfg.GetPath()), bi.Version).ReadTranscript(id)
	if err != nil {
		return cmd.PrepareExecutionErrorFromErr(helper, err)
	}
	return output.Print(helper, events, func(out io.Writer) error {
		return printHistory(out, events)
	})
}

func printHistory(out io.Writer, events []storage.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(out, "No local transcript.")
		return err
	}
	for _, e := range events {
		line := describeEvent(e)
		if _, err := fmt.Fprintf(out, "%s  %s\n", e.Timestamp.Local().Format(time.TimeOnly), line); err != nil {
			return err
		}
	}
	return nil
}

func describeEvent(e storage.Event) string {
	switch e.Kind {
	case storage.EventKindMessage:
		return fmt.Sprintf("%s: %s", e.Role, util.FirstLine(e.Content))
	case storage.EventKindTool:
		if e.Tool == nil {
			return "tool"
		}
		switch {
		case e.Tool.Error != "":
			return fmt.Sprintf("tool %s %s: %s", e.Tool.Name, e.Tool.Phase, e.Tool.Error)
		case e.Tool.Summary != "":
			return fmt.Sprintf("tool %s %s: %s", e.Tool.Name, e.Tool.Phase, e.Tool.Summary)
		default:
			return fmt.Sprintf("tool %s %s", e.Tool.Name, e.Tool.Phase)
		}
	case storage.EventKindResults:
		return fmt.Sprintf("results: %v %v of %v", e.Metadata["search_type"], e.Metadata["returned"], e.Metadata["total"])
	case storage.EventKindError:
		return "error: " + e.Error
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Content)
	}
}
