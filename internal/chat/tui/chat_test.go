package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/chat/session"
)

type stubAPI struct {
	session *chat.Session
}

func (s *stubAPI) CreateSession(context.Context, chat.CreateSessionRequest) (*chat.Session, error) {
	return &chat.Session{ID: "c0ffee00-0000-4000-8000-000000000000"}, nil
}

func (s *stubAPI) GetSession(_ context.Context, id string) (*chat.Session, error) {
	if s.session == nil || s.session.ID != id {
		return nil, &chat.APIError{Status: 404, Detail: "Session not found"}
	}
	copied := *s.session
	return &copied, nil
}

func (s *stubAPI) StreamTurn(_ context.Context, _ chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
	h.OnText("ok")
	h.OnDone()
	return chat.StreamStats{}, nil
}

func newTestModel(t *testing.T, api *stubAPI) *model {
	t.Helper()
	mgr := session.NewManager(api, session.Options{})
	return newModel(context.Background(), Options{Manager: mgr})
}

func enter(m *model, text string) tea.Cmd {
	m.input.SetValue(text)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestSendWithoutSessionIsRejected(t *testing.T) {
	m := newTestModel(t, &stubAPI{})

	cmd := enter(m, "find fintech CFOs")

	require.Nil(t, cmd)
	require.False(t, m.sending)
	require.Contains(t, m.View(), "No active session")
}

func TestModeCommand(t *testing.T) {
	require := require.New(t)
	m := newTestModel(t, &stubAPI{})
	require.Equal(chat.ModeProspecting, m.mode)

	require.Nil(enter(m, "/mode all"))
	require.Equal(chat.ModeAll, m.mode)

	require.Nil(enter(m, "/mode everything"))
	require.Equal(chat.ModeAll, m.mode)
	require.Contains(m.failure, "usage: /mode")
}

func TestLoadedSessionIsRendered(t *testing.T) {
	require := require.New(t)
	api := &stubAPI{session: &chat.Session{
		ID:    "s-1",
		Title: "Italian SEO",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "Find SEO specialists in Italy", HasAttachment: true},
			{Role: chat.RoleAssistant, Content: "Found 12 people."},
		},
		Usage: chat.Usage{MessageCount: 2, TotalCostUSD: 0.5, APICredits: 3},
	}}
	m := newTestModel(t, api)

	_, err := m.manager.LoadSession(context.Background(), "s-1")
	require.NoError(err)
	m.Update(stateMsg{state: m.manager.Store().Snapshot()})

	view := m.View()
	require.Contains(view, "prospectctl chat · Italian SEO")
	require.Contains(view, "Find SEO specialists in Italy [attachment]")
	require.Contains(view, "Found 12 people.")
	require.Contains(view, "messages: 2 · cost: $0.5000 · credits: 3")
}

func TestSendRunsTurn(t *testing.T) {
	require := require.New(t)
	api := &stubAPI{session: &chat.Session{ID: "s-1"}}
	m := newTestModel(t, api)
	_, err := m.manager.LoadSession(context.Background(), "s-1")
	require.NoError(err)

	cmd := enter(m, "hello")
	require.NotNil(cmd)
	require.True(m.sending)

	msg := cmd()
	finished, ok := msg.(turnFinishedMsg)
	require.True(ok)
	require.NoError(finished.err)

	m.Update(finished)
	require.False(m.sending)
	require.Empty(m.failure)
}

func TestTurnOutcomeMessages(t *testing.T) {
	m := newTestModel(t, &stubAPI{})

	m.Update(turnFinishedMsg{err: session.ErrTurnCancelled})
	require.Equal(t, "Reply cancelled.", m.notice)
	require.Empty(t, m.failure)

	m.Update(turnFinishedMsg{err: session.ErrTurnSuperseded})
	require.Empty(t, m.failure)

	m.Update(turnFinishedMsg{err: errors.New("rate limited")})
	require.Equal(t, "rate limited", m.failure)
}

func TestCopyCommand(t *testing.T) {
	require := require.New(t)
	m := newTestModel(t, &stubAPI{})
	var copied string
	m.copy = func(s string) error {
		copied = s
		return nil
	}

	enter(m, "/copy")
	require.Equal("nothing to copy yet", m.failure)

	m.state = session.State{Session: &chat.Session{Messages: []chat.Message{
		{Role: chat.RoleAssistant, Content: "first"},
		{Role: chat.RoleUser, Content: "more"},
		{Role: chat.RoleAssistant, Content: "second"},
	}}}
	m.failure = ""
	enter(m, "/copy")
	require.Equal("second", copied)
	require.Equal("Copied the last reply.", m.notice)
}

func TestUnknownCommand(t *testing.T) {
	m := newTestModel(t, &stubAPI{})

	enter(m, "/frobnicate")

	require.Equal(t, "unknown command /frobnicate (try /help)", m.failure)
}

func TestAttachCommand(t *testing.T) {
	require := require.New(t)
	m := newTestModel(t, &stubAPI{})
	m.opts.Upload = func(_ context.Context, path string) (*chat.Upload, error) {
		return &chat.Upload{Filename: path, Content: "brief text"}, nil
	}

	cmd := enter(m, "/attach brief.pdf")
	require.NotNil(cmd)
	m.Update(cmd())

	require.Equal("brief text", m.attachment.Content)
	require.Contains(m.renderFooter(), "attached: brief.pdf")
}

// blockingAPI holds every turn open until its context ends or release is
// closed.
type blockingAPI struct {
	stubAPI
	started chan string
	release chan struct{}
}

func (b *blockingAPI) StreamTurn(ctx context.Context, req chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
	b.started <- req.Message
	select {
	case <-ctx.Done():
		return chat.StreamStats{}, ctx.Err()
	case <-b.release:
		h.OnText("ok")
		h.OnDone()
		return chat.StreamStats{}, nil
	}
}

func TestOverlappingSendsKeepLatestTurnLive(t *testing.T) {
	require := require.New(t)
	api := &blockingAPI{
		stubAPI: stubAPI{session: &chat.Session{ID: "s-1"}},
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	mgr := session.NewManager(api, session.Options{})
	m := newModel(context.Background(), Options{Manager: mgr})
	_, err := mgr.LoadSession(context.Background(), "s-1")
	require.NoError(err)

	first := make(chan tea.Msg, 1)
	firstCmd := enter(m, "first")
	go func() { first <- firstCmd() }()
	require.Equal("first", <-api.started)

	secondCmd := enter(m, "second")
	second := make(chan tea.Msg, 1)
	go func() { second <- secondCmd() }()
	require.Equal("second", <-api.started)

	finished := (<-first).(turnFinishedMsg)
	require.ErrorIs(finished.err, session.ErrTurnSuperseded)
	m.Update(finished)
	require.True(m.sending)
	require.Equal(session.PhaseStreaming, mgr.Phase())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.Nil(cmd)

	latest := (<-second).(turnFinishedMsg)
	require.ErrorIs(latest.err, session.ErrTurnCancelled)
	m.Update(latest)
	require.False(m.sending)
	require.Equal("Reply cancelled.", m.notice)
}

func TestStaleTurnResultIsIgnored(t *testing.T) {
	require := require.New(t)
	m := newTestModel(t, &stubAPI{})
	m.sending, m.turn = true, 2

	m.Update(turnFinishedMsg{turn: 1, err: errors.New("rate limited")})
	require.True(m.sending)
	require.Empty(m.failure)
}
