package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/chat/storage"
	applog "github.com/prospectr/prospectctl/internal/log"
	"github.com/stretchr/testify/require"
)

type streamFunc func(ctx context.Context, turn chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error)

type fakeAPI struct {
	mu        sync.Mutex
	createErr error
	created   *chat.Session
	sessions  map[string]*chat.Session
	getErrs   []error
	getCalls  int
	streams   []streamFunc
	turns     []chat.TurnRequest
}

func (f *fakeAPI) CreateSession(_ context.Context, req chat.CreateSessionRequest) (*chat.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.created != nil {
		return f.created, nil
	}
	return &chat.Session{ID: "new-session", ClientTag: req.ClientTag, Status: chat.StatusActive}, nil
}

func (f *fakeAPI) GetSession(_ context.Context, id string) (*chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, &chat.APIError{Status: 404, Detail: "Session not found"}
	}
	copied := *s
	return &copied, nil
}

func (f *fakeAPI) StreamTurn(ctx context.Context, turn chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
	f.mu.Lock()
	f.turns = append(f.turns, turn)
	var fn streamFunc
	if len(f.streams) > 0 {
		fn = f.streams[0]
		f.streams = f.streams[1:]
	}
	f.mu.Unlock()
	if fn == nil {
		h.OnDone()
		return chat.StreamStats{}, nil
	}
	return fn(ctx, turn, h)
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func zeroBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func newTestManager(api *fakeAPI, opts Options) *Manager {
	if opts.ReloadBackOff == nil {
		opts.ReloadBackOff = zeroBackOff
	}
	m := NewManager(api, opts)
	m.store.now = func() time.Time { return fixedNow }
	return m
}

func TestSendMessageWithoutActiveSession(t *testing.T) {
	api := &fakeAPI{}
	m := newTestManager(api, Options{})

	_, err := m.SendMessage(context.Background(), "hello", "", chat.ModeProspecting)

	require.ErrorIs(t, err, ErrNoActiveSession)
	require.Empty(t, api.turns)
	require.Nil(t, m.Store().Snapshot().Session)
}

func TestCreateThenLoadIsEmpty(t *testing.T) {
	require := require.New(t)
	api := &fakeAPI{sessions: map[string]*chat.Session{
		"new-session": {ID: "new-session", Messages: []chat.Message{}},
	}}
	m := newTestManager(api, Options{})

	created, err := m.CreateSession(context.Background(), chat.CreateSessionRequest{ClientTag: "acme"})
	require.NoError(err)
	require.Equal("new-session", m.ActiveID())
	require.Equal("acme", created.ClientTag)

	loaded, err := m.LoadSession(context.Background(), created.ID)
	require.NoError(err)
	require.Empty(loaded.Messages)
	require.Zero(loaded.Usage)
	require.Equal(PhaseIdle, m.Phase())
}

func TestCreateSessionFailureLeavesActiveUnset(t *testing.T) {
	api := &fakeAPI{createErr: &chat.APIError{Status: 500, Detail: "boom"}}
	m := newTestManager(api, Options{})

	_, err := m.CreateSession(context.Background(), chat.CreateSessionRequest{})

	require.Error(t, err)
	require.Empty(t, m.ActiveID())
	require.Nil(t, m.Store().Snapshot().Session)
}

func TestSearchTurnScenario(t *testing.T) {
	require := require.New(t)

	reconciled := &chat.Session{
		ID: "s-1",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "Find SEO specialists in Italy"},
			{Role: chat.RoleAssistant, Content: "Searching... found 12 people."},
		},
		Usage: chat.Usage{TotalCostUSD: 0.0123, MessageCount: 2, APICredits: 1},
	}
	api := &fakeAPI{sessions: map[string]*chat.Session{"s-1": {ID: "s-1"}}}
	m := newTestManager(api, Options{})
	_, err := m.LoadSession(context.Background(), "s-1")
	require.NoError(err)

	api.streams = []streamFunc{func(_ context.Context, turn chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
		require.Equal("s-1", turn.SessionID)
		require.Equal(chat.ModeProspecting, turn.Mode)

		st := m.Store().Snapshot()
		require.True(st.IsStreaming)
		require.Len(st.Session.Messages, 1)
		require.Equal(PhaseStreaming, m.Phase())

		h.OnToolStart("search_apollo", map[string]any{"person_titles": []any{"SEO specialist"}})
		require.Equal("search_apollo", m.Store().Snapshot().CurrentTool.Tool)

		h.OnText("Searching...")
		st = m.Store().Snapshot()
		require.Len(st.Session.Messages, 2)
		require.Equal(chat.Message{Role: chat.RoleAssistant, Content: "Searching...", CreatedAt: fixedNow}, st.Session.Messages[1])

		h.OnToolComplete("search_apollo", "Found 12")
		require.Nil(m.Store().Snapshot().CurrentTool)

		h.OnResults(chat.ApolloResults{SearchType: "people", Total: 12, Returned: 10})
		h.OnUsage(chat.TurnUsage{InputTokens: 900, OutputTokens: 120})

		api.mu.Lock()
		api.sessions["s-1"] = reconciled
		api.mu.Unlock()

		h.OnDone()
		require.False(m.Store().Snapshot().IsStreaming)
		require.Equal(PhaseReconciling, m.Phase())
		return chat.StreamStats{Frames: 6}, nil
	}}

	result, err := m.SendMessage(context.Background(), "Find SEO specialists in Italy", "", chat.ModeProspecting)
	require.NoError(err)
	require.True(result.Reconciled)
	require.Equal(&chat.TurnUsage{InputTokens: 900, OutputTokens: 120}, result.Usage)

	st := m.Store().Snapshot()
	require.Equal(reconciled.Messages, st.Session.Messages)
	require.Equal(reconciled.Usage, st.Session.Usage)
	require.Equal(12, st.Results.Total)
	require.Equal(PhaseIdle, m.Phase())
	require.Equal(2, api.calls())
}

func TestErrorFrameFailsTurnWithoutReload(t *testing.T) {
	require := require.New(t)
	api := &fakeAPI{sessions: map[string]*chat.Session{"s-1": {ID: "s-1"}}}
	m := newTestManager(api, Options{})
	_, err := m.LoadSession(context.Background(), "s-1")
	require.NoError(err)

	api.streams = []streamFunc{func(_ context.Context, _ chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
		h.OnToolStart("search_apollo", nil)
		h.OnText("partial")
		perr := &chat.ProtocolError{Message: "rate limited"}
		h.OnError(perr)
		return chat.StreamStats{}, perr
	}}

	_, err = m.SendMessage(context.Background(), "go", "", chat.ModeAll)

	var perr *chat.ProtocolError
	require.ErrorAs(err, &perr)
	st := m.Store().Snapshot()
	require.Equal("rate limited", st.Error)
	require.False(st.IsStreaming)
	require.Nil(st.CurrentTool)
	require.Equal("partial", st.LastAssistant())
	require.Equal(1, api.calls())
	require.Equal(PhaseIdle, m.Phase())
}

func TestSecondSendSupersedesFirst(t *testing.T) {
	require := require.New(t)
	api := &fakeAPI{sessions: map[string]*chat.Session{"s-1": {ID: "s-1"}}}
	m := newTestManager(api, Options{})
	_, err := m.LoadSession(context.Background(), "s-1")
	require.NoError(err)

	firstStarted := make(chan struct{})
	firstFinished := make(chan struct{})
	var beforeReload State

	api.streams = []streamFunc{
		func(ctx context.Context, _ chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
			h.OnText("one")
			close(firstStarted)
			<-ctx.Done()
			h.OnText(" late")
			h.OnDone()
			close(firstFinished)
			return chat.StreamStats{}, ctx.Err()
		},
		func(_ context.Context, _ chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
			<-firstFinished
			h.OnText("two")
			beforeReload = m.Store().Snapshot()
			h.OnDone()
			return chat.StreamStats{}, nil
		},
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := m.SendMessage(context.Background(), "first", "", chat.ModeAll)
		firstErr <- err
	}()
	<-firstStarted

	_, err = m.SendMessage(context.Background(), "second", "", chat.ModeAll)
	require.NoError(err)
	require.ErrorIs(<-firstErr, ErrTurnSuperseded)

	contents := make([]string, 0, len(beforeReload.Session.Messages))
	for _, msg := range beforeReload.Session.Messages {
		contents = append(contents, fmt.Sprintf("%s:%s", msg.Role, msg.Content))
	}
	require.Equal([]string{"user:first", "assistant:one", "user:second", "assistant:two"}, contents)
}

func TestTurnTimeoutFailsTurn(t *testing.T) {
	api := &fakeAPI{sessions: map[string]*chat.Session{"s-1": {ID: "s-1"}}}
	m := newTestManager(api, Options{TurnTimeout: 20 * time.Millisecond})
	_, err := m.LoadSession(context.Background(), "s-1")
	require.NoError(t, err)

	api.streams = []streamFunc{func(ctx context.Context, _ chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
		<-ctx.Done()
		err := fmt.Errorf("%w: %w", chat.ErrTurnTimeout, ctx.Err())
		h.OnError(err)
		return chat.StreamStats{}, err
	}}

	_, err = m.SendMessage(context.Background(), "slow", "", chat.ModeAll)

	require.ErrorIs(t, err, chat.ErrTurnTimeout)
	require.Contains(t, m.Store().Snapshot().Error, "turn timed out")
	require.False(t, m.Store().Snapshot().IsStreaming)
}

func TestCancelAbandonsTurn(t *testing.T) {
	require := require.New(t)
	api := &fakeAPI{sessions: map[string]*chat.Session{"s-1": {ID: "s-1"}}}
	m := newTestManager(api, Options{})
	_, err := m.LoadSession(context.Background(), "s-1")
	require.NoError(err)

	started := make(chan struct{})
	api.streams = []streamFunc{func(ctx context.Context, _ chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
		h.OnToolStart("search_apollo", nil)
		close(started)
		<-ctx.Done()
		return chat.StreamStats{}, ctx.Err()
	}}

	done := make(chan error, 1)
	go func() {
		_, err := m.SendMessage(context.Background(), "go", "", chat.ModeAll)
		done <- err
	}()
	<-started
	m.Cancel()

	require.ErrorIs(<-done, ErrTurnCancelled)
	st := m.Store().Snapshot()
	require.ErrorIs(st.Err, ErrTurnCancelled)
	require.Nil(st.CurrentTool)
	require.Equal(PhaseIdle, m.Phase())
}

func TestReconcileRetriesTransientFailures(t *testing.T) {
	api := &fakeAPI{sessions: map[string]*chat.Session{"s-1": {ID: "s-1"}}}
	m := newTestManager(api, Options{})
	_, err := m.LoadSession(context.Background(), "s-1")
	require.NoError(t, err)

	api.getErrs = []error{&chat.TransientError{Err: errors.New("connection reset")}}

	result, err := m.SendMessage(context.Background(), "go", "", chat.ModeAll)

	require.NoError(t, err)
	require.True(t, result.Reconciled)
	require.Equal(t, 3, api.calls())
}

func TestReconcileDoesNotRetryPermanentFailures(t *testing.T) {
	api := &fakeAPI{sessions: map[string]*chat.Session{"s-1": {ID: "s-1"}}}
	m := newTestManager(api, Options{})
	_, err := m.LoadSession(context.Background(), "s-1")
	require.NoError(t, err)

	api.getErrs = []error{&chat.APIError{Status: 403, Detail: "forbidden"}}

	result, err := m.SendMessage(context.Background(), "go", "", chat.ModeAll)

	var apiErr *chat.APIError
	require.ErrorAs(t, err, &apiErr)
	require.False(t, result.Reconciled)
	require.Equal(t, 2, api.calls())
	require.Equal(t, PhaseIdle, m.Phase())
}

func TestSwitchSessionReplacesState(t *testing.T) {
	require := require.New(t)
	api := &fakeAPI{sessions: map[string]*chat.Session{
		"a": {ID: "a", Messages: []chat.Message{{Role: chat.RoleUser, Content: "in a"}}},
		"b": {ID: "b", ICPDraft: map[string]any{"industry": "fintech"}},
	}}
	m := newTestManager(api, Options{})

	_, err := m.SwitchSession(context.Background(), "a")
	require.NoError(err)
	require.Len(m.Store().Snapshot().Session.Messages, 1)

	_, err = m.SwitchSession(context.Background(), "a")
	require.NoError(err)
	require.Equal(1, api.calls())

	_, err = m.SwitchSession(context.Background(), "b")
	require.NoError(err)
	require.Equal("b", m.ActiveID())
	require.Empty(m.Store().Snapshot().Session.Messages)
	require.Equal("fintech", m.Store().Snapshot().Session.ICPDraft["industry"])

	_, err = m.SwitchSession(context.Background(), "missing")
	require.Error(err)
	require.Equal("b", m.ActiveID())
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []storage.Event
}

func (r *memoryRecorder) Append(_ string, evt storage.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func TestTurnIsRecorded(t *testing.T) {
	rec := &memoryRecorder{}
	api := &fakeAPI{sessions: map[string]*chat.Session{"new-session": {ID: "new-session"}}}
	m := newTestManager(api, Options{Recorder: rec})

	_, err := m.CreateSession(context.Background(), chat.CreateSessionRequest{})
	require.NoError(t, err)

	api.streams = []streamFunc{func(_ context.Context, _ chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
		h.OnToolStart("search_apollo", map[string]any{"q": "seo"})
		h.OnToolComplete("search_apollo", "Found 3")
		h.OnText("Here they are.")
		h.OnDone()
		return chat.StreamStats{}, nil
	}}
	_, err = m.SendMessage(context.Background(), "go", "", chat.ModeAll)
	require.NoError(t, err)

	kinds := make([]storage.EventKind, 0, len(rec.events))
	for _, e := range rec.events {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []storage.EventKind{
		storage.EventKindLifecycle,
		storage.EventKindMessage,
		storage.EventKindTool,
		storage.EventKindTool,
		storage.EventKindMessage,
	}, kinds)
	require.Equal(t, "Here they are.", rec.events[4].Content)
}

type failingRecorder struct{ err error }

func (r failingRecorder) Append(string, storage.Event) error { return r.err }

func TestRecorderFailureIsLoggedAndTurnSucceeds(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.WithValue(context.Background(), applog.LoggerKey, logger)

	api := &fakeAPI{sessions: map[string]*chat.Session{"new-session": {ID: "new-session"}}}
	m := newTestManager(api, Options{Recorder: failingRecorder{err: errors.New("disk full")}})

	_, err := m.CreateSession(ctx, chat.CreateSessionRequest{})
	require.NoError(err)

	api.streams = []streamFunc{func(_ context.Context, _ chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error) {
		h.OnText("ok")
		h.OnDone()
		return chat.StreamStats{}, nil
	}}
	result, err := m.SendMessage(ctx, "go", "", chat.ModeAll)
	require.NoError(err)
	require.True(result.Reconciled)

	logs := buf.String()
	require.Contains(logs, `"msg":"transcript append failed"`)
	require.Contains(logs, `"error":"disk full"`)
	require.Contains(logs, `"session_id":"new-session"`)
	require.Contains(logs, `"event_kind":"lifecycle"`)
	require.Contains(logs, `"event_kind":"message"`)
}
