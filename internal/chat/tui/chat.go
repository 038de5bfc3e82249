package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/chat/render"
	"github.com/prospectr/prospectctl/internal/chat/session"
	"github.com/prospectr/prospectctl/internal/iostreams"
	applog "github.com/prospectr/prospectctl/internal/log"
	"github.com/prospectr/prospectctl/internal/theme"
	"github.com/prospectr/prospectctl/internal/util"
)

// Options configure the interactive chat.
type Options struct {
	Manager *session.Manager
	Mode    chat.Mode
	// Upload extracts text from a local file for /attach.
	Upload   func(ctx context.Context, path string) (*chat.Upload, error)
	UseColor bool
	Palette  theme.Palette
	Version  string
	// ClientTag is applied to sessions created with /new.
	ClientTag string
	// Pending is sent with the first message, as if added with /attach.
	Pending *chat.Upload
}

const (
	defaultPrompt   = "Describe who you want to reach... /help for commands"
	promptSymbol    = "› "
	promptMaxHeight = 6
	defaultWidth    = 80
	resultRows      = 8
)

type slashCommand struct {
	name        string
	description string
}

var slashCommands = []slashCommand{
	{"/new", "Start a new session"},
	{"/switch <id>", "Switch to another session"},
	{"/mode <prospecting|all>", "Change the tool set for the next turns"},
	{"/attach <file>", "Upload a document and send its text with the next message"},
	{"/results", "Show or hide the last search results"},
	{"/copy", "Copy the last assistant reply"},
	{"/cancel", "Stop the reply in progress"},
	{"/quit", "Leave the chat"},
}

type styles struct {
	header    lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	muted     lipgloss.Style
	errorLine lipgloss.Style
	notice    lipgloss.Style
	border    lipgloss.Style
}

func buildStyles(p theme.Palette) styles {
	return styles{
		header:    p.BadgeStyle(theme.ColorPrimary).Bold(true),
		user:      p.ForegroundStyle(theme.ColorAccent).Bold(true),
		assistant: p.ForegroundStyle(theme.ColorPrimary).Bold(true),
		muted:     p.ForegroundStyle(theme.ColorTextMuted),
		errorLine: p.ForegroundStyle(theme.ColorDanger),
		notice:    p.ForegroundStyle(theme.ColorSuccess),
		border:    p.ForegroundStyle(theme.ColorBorder),
	}
}

type (
	stateMsg        struct{ state session.State }
	turnFinishedMsg struct {
		turn   uint64
		result *session.TurnResult
		err    error
	}
	sessionMsg struct {
		session *chat.Session
		err     error
	}
	attachedMsg struct {
		upload *chat.Upload
		err    error
	}
)

type model struct {
	ctx     context.Context
	opts    Options
	manager *session.Manager
	styles  styles

	input   textarea.Model
	spinner spinner.Model
	width   int

	state       session.State
	updates     chan struct{}
	mode        chat.Mode
	sending     bool
	turn        uint64
	turnStart   time.Time
	lastTurn    time.Duration
	attachment  *chat.Upload
	showResults bool
	notice      string
	failure     string

	copy func(string) error
}

// Run starts the interactive chat on the manager's active session.
func Run(ctx context.Context, streams *iostreams.IOStreams, opts Options) error {
	if opts.Manager == nil {
		return errors.New("chat requires a session manager")
	}

	logger := chat.ContextLogger(ctx)
	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "chat ui start",
			slog.String("session_id", opts.Manager.ActiveID()),
			slog.String("mode", string(opts.Mode)))
	}

	// The UI owns the terminal; errors still reach the log file.
	applog.DisableErrorMirroring()
	defer applog.EnableErrorMirroring()

	m := newModel(ctx, opts)
	program := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(streams.In),
		tea.WithOutput(streams.Out),
		tea.WithoutSignalHandler(),
	)
	_, err := program.Run()
	opts.Manager.Cancel()

	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "chat ui end",
			slog.String("session_id", opts.Manager.ActiveID()),
			slog.Bool("had_error", err != nil))
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(ctx context.Context, opts Options) *model {
	pal := opts.Palette
	if pal.Name == "" {
		pal = theme.FromContext(ctx)
	}
	if opts.Mode == "" {
		opts.Mode = chat.ModeProspecting
	}

	input := textarea.New()
	input.Placeholder = defaultPrompt
	input.Prompt = promptSymbol
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.MaxHeight = promptMaxHeight
	input.SetHeight(1)
	input.SetWidth(defaultWidth - 4)
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = pal.ForegroundStyle(theme.ColorAccent)

	m := &model{
		ctx:     ctx,
		opts:    opts,
		manager: opts.Manager,
		styles:  buildStyles(pal),
		input:   input,
		spinner: sp,
		width:   defaultWidth,
		mode:    opts.Mode,
		updates: make(chan struct{}, 1),
		copy:    clipboard.WriteAll,

		attachment: opts.Pending,
	}
	m.state = m.manager.Store().Snapshot()

	// Observers run under the manager's lock; only signal here.
	m.manager.Store().OnChange(func(session.State) {
		select {
		case m.updates <- struct{}{}:
		default:
		}
	})
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.waitForState())
}

func (m *model) waitForState() tea.Cmd {
	store := m.manager.Store()
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case <-m.updates:
			return stateMsg{state: store.Snapshot()}
		}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = msg.state
		return m, m.waitForState()
	case turnFinishedMsg:
		// a superseded turn finishes while its successor is still streaming
		if msg.turn != m.turn || errors.Is(msg.err, session.ErrTurnSuperseded) {
			return m, nil
		}
		m.sending = false
		m.lastTurn = time.Since(m.turnStart)
		m.failure = ""
		switch {
		case msg.err == nil:
		case errors.Is(msg.err, session.ErrTurnCancelled):
			m.notice = "Reply cancelled."
		default:
			m.failure = msg.err.Error()
		}
		return m, nil
	case sessionMsg:
		if msg.err != nil {
			m.failure = msg.err.Error()
			return m, nil
		}
		m.failure = ""
		m.notice = fmt.Sprintf("Active session %s.", util.AbbreviateUUID(msg.session.ID))
		return m, nil
	case attachedMsg:
		if msg.err != nil {
			m.failure = msg.err.Error()
			return m, nil
		}
		m.attachment = msg.upload
		m.notice = fmt.Sprintf("Attached %s; it will be sent with your next message.", msg.upload.Filename)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.input.SetWidth(max(msg.Width-4, 20))
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.sending {
			m.manager.Cancel()
			return m, nil
		}
		return m, tea.Quit
	case tea.KeyEsc:
		if m.sending {
			m.manager.Cancel()
		}
		return m, nil
	case tea.KeyEnter:
		raw := strings.TrimSpace(m.input.Value())
		if raw == "" {
			return m, nil
		}
		m.input.Reset()
		m.input.SetHeight(1)
		m.notice = ""
		if strings.HasPrefix(raw, "/") {
			return m, m.executeSlashCommand(raw)
		}
		return m, m.send(raw)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.input.SetHeight(min(max(m.input.LineCount(), 1), promptMaxHeight))
	return m, cmd
}

// send starts a turn. A turn already in flight is superseded by the manager.
func (m *model) send(text string) tea.Cmd {
	if m.manager.ActiveID() == "" {
		m.failure = "No active session. Use /new or /switch <id>."
		return nil
	}

	fileContent := ""
	if m.attachment != nil {
		fileContent = m.attachment.Content
		m.attachment = nil
	}
	m.sending = true
	m.turn++
	m.failure = ""
	m.turnStart = time.Now()

	ctx, manager, mode, turn := m.ctx, m.manager, m.mode, m.turn
	return func() tea.Msg {
		result, err := manager.SendMessage(ctx, text, fileContent, mode)
		return turnFinishedMsg{turn: turn, result: result, err: err}
	}
}

func (m *model) executeSlashCommand(raw string) tea.Cmd {
	fields := strings.Fields(raw)
	name, args := strings.ToLower(fields[0]), fields[1:]
	ctx, manager := m.ctx, m.manager

	switch name {
	case "/quit", "/exit":
		return tea.Quit
	case "/help":
		lines := make([]string, 0, len(slashCommands))
		for _, c := range slashCommands {
			lines = append(lines, fmt.Sprintf("%-26s %s", c.name, c.description))
		}
		m.notice = strings.Join(lines, "\n")
	case "/new":
		tag := m.opts.ClientTag
		return func() tea.Msg {
			s, err := manager.CreateSession(ctx, chat.CreateSessionRequest{ClientTag: tag})
			return sessionMsg{session: s, err: err}
		}
	case "/switch":
		if len(args) != 1 {
			m.failure = "usage: /switch <session id>"
			return nil
		}
		id := args[0]
		return func() tea.Msg {
			s, err := manager.SwitchSession(ctx, id)
			return sessionMsg{session: s, err: err}
		}
	case "/mode":
		if len(args) != 1 || (args[0] != string(chat.ModeProspecting) && args[0] != string(chat.ModeAll)) {
			m.failure = "usage: /mode prospecting|all"
			return nil
		}
		m.mode = chat.Mode(args[0])
		m.notice = fmt.Sprintf("Mode set to %s.", m.mode)
	case "/attach":
		if len(args) != 1 {
			m.failure = "usage: /attach <file>"
			return nil
		}
		if m.opts.Upload == nil {
			m.failure = "uploads are not available"
			return nil
		}
		upload, path := m.opts.Upload, args[0]
		return func() tea.Msg {
			u, err := upload(ctx, path)
			return attachedMsg{upload: u, err: err}
		}
	case "/results":
		m.showResults = !m.showResults
	case "/copy":
		reply := m.state.LastAssistant()
		if reply == "" {
			m.failure = "nothing to copy yet"
			return nil
		}
		if err := m.copy(reply); err != nil {
			m.failure = fmt.Sprintf("copy failed: %v", err)
			return nil
		}
		m.notice = "Copied the last reply."
	case "/cancel":
		manager.Cancel()
	default:
		m.failure = fmt.Sprintf("unknown command %s (try /help)", name)
	}
	return nil
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	if m.state.Session == nil {
		b.WriteString(m.paint(m.styles.muted, "No session loaded. Use /new or /switch <id>."))
		b.WriteString("\n\n")
	} else {
		for _, msg := range m.state.Session.Messages {
			if line := m.renderMessage(msg); line != "" {
				b.WriteString(line)
				b.WriteString("\n\n")
			}
		}
	}

	if m.state.IsStreaming || m.sending {
		status := "Thinking"
		if m.state.CurrentTool != nil {
			status = render.ToolStatus(m.state.CurrentTool)
		}
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(m.paint(m.styles.muted, truncate.StringWithTail(status, uint(max(m.width-4, 10)), "…")))
		b.WriteString("\n\n")
	}

	if m.state.Results != nil {
		if m.showResults {
			b.WriteString(render.Results(m.state.Results, theme.FromContext(m.ctx),
				render.Options{NoColor: !m.opts.UseColor}, resultRows))
		} else {
			b.WriteString(m.paint(m.styles.muted, fmt.Sprintf("%d %s found (/results to show).",
				m.state.Results.Total, m.state.Results.SearchType)))
		}
		b.WriteString("\n\n")
	}

	if msg := m.errorText(); msg != "" {
		b.WriteString(m.paint(m.styles.errorLine, "Error: "+msg))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(m.paint(m.styles.notice, m.notice))
		b.WriteString("\n")
	}

	border := strings.Repeat("─", max(m.width, 20))
	b.WriteString(m.paint(m.styles.border, border))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.paint(m.styles.border, border))
	b.WriteString("\n")
	b.WriteString(m.paint(m.styles.muted, m.renderFooter()))
	return b.String()
}

func (m *model) errorText() string {
	if m.failure != "" {
		return m.failure
	}
	if errors.Is(m.state.Err, session.ErrTurnCancelled) || errors.Is(m.state.Err, session.ErrTurnSuperseded) {
		return ""
	}
	return m.state.Error
}

func (m *model) renderHeader() string {
	title := "prospectctl chat"
	if m.state.Session != nil {
		name := m.state.Session.Title
		if name == "" {
			name = util.AbbreviateUUID(m.state.Session.ID)
		}
		title = fmt.Sprintf("%s · %s", title, name)
	}
	return m.paint(m.styles.header, title)
}

func (m *model) renderFooter() string {
	parts := []string{fmt.Sprintf("mode: %s", m.mode)}
	if s := m.state.Session; s != nil {
		parts = append(parts,
			fmt.Sprintf("messages: %d", s.MessageCount),
			fmt.Sprintf("cost: $%.4f", s.TotalCostUSD),
			fmt.Sprintf("credits: %d", s.APICredits))
	}
	if u := m.state.TurnUsage; u != nil {
		parts = append(parts, fmt.Sprintf("last turn: %d/%d tokens", u.InputTokens, u.OutputTokens))
	}
	if m.lastTurn > 0 && !m.sending {
		parts = append(parts, m.lastTurn.Round(100*time.Millisecond).String())
	}
	if m.attachment != nil {
		parts = append(parts, "attached: "+m.attachment.Filename)
	}
	return strings.Join(parts, " · ")
}

func (m *model) renderMessage(msg chat.Message) string {
	width := max(m.width-2, 20)
	switch msg.Role {
	case chat.RoleUser:
		content := msg.Content
		if msg.HasAttachment {
			content += " [attachment]"
		}
		return m.paint(m.styles.user, "You") + "\n" + wordwrap.String(content, width)
	case chat.RoleAssistant:
		if strings.TrimSpace(msg.Content) == "" {
			return ""
		}
		return m.paint(m.styles.assistant, "Assistant") + "\n" +
			render.Markdown(msg.Content, render.Options{NoColor: !m.opts.UseColor, Width: width})
	default:
		return ""
	}
}

func (m *model) paint(style lipgloss.Style, s string) string {
	if !m.opts.UseColor {
		return s
	}
	return style.Render(s)
}
