package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/chat/storage"
	applog "github.com/prospectr/prospectctl/internal/log"
)

var (
	// ErrNoActiveSession rejects a turn before any network call.
	ErrNoActiveSession = errors.New("no active session")
	// ErrTurnSuperseded is returned to the caller of a turn that a newer
	// turn, load or switch replaced.
	ErrTurnSuperseded = errors.New("turn superseded by a newer request")
	ErrTurnCancelled  = errors.New("turn cancelled")
)

const DefaultTurnTimeout = 5 * time.Minute

// Phase is the turn lifecycle of the active session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStreaming
	PhaseReconciling
)

func (p Phase) String() string {
	switch p {
	case PhaseStreaming:
		return "streaming"
	case PhaseReconciling:
		return "reconciling"
	default:
		return "idle"
	}
}

// API is the server surface the manager drives. *chat.Client satisfies it.
type API interface {
	CreateSession(ctx context.Context, req chat.CreateSessionRequest) (*chat.Session, error)
	GetSession(ctx context.Context, id string) (*chat.Session, error)
	StreamTurn(ctx context.Context, turn chat.TurnRequest, h chat.Handlers) (chat.StreamStats, error)
}

// Recorder keeps a local transcript of turns. *storage.Journal satisfies it.
type Recorder interface {
	Append(sessionID string, evt storage.Event) error
}

type Options struct {
	// TurnTimeout bounds one streamed turn; expiry fails the turn.
	TurnTimeout time.Duration
	// ReloadBackOff builds the retry policy for reloads. Only transient
	// failures are retried.
	ReloadBackOff func() backoff.BackOff
	Recorder      Recorder
}

// TurnResult describes a finished turn.
type TurnResult struct {
	SessionID  string
	Epoch      uint64
	Stats      chat.StreamStats
	Usage      *chat.TurnUsage
	Reconciled bool
}

// Manager creates, loads and switches sessions and runs turns against the
// active one. It is safe for concurrent use; at most one turn streams at a
// time and a new turn cancels the previous one.
type Manager struct {
	api   API
	store *Store
	opts  Options

	mu       sync.Mutex
	activeID string
	phase    Phase
	epoch    uint64
	cancel   context.CancelFunc
	// cancelled is the epoch most recently abandoned through Cancel.
	cancelled uint64
}

func NewManager(api API, opts Options) *Manager {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	if opts.ReloadBackOff == nil {
		opts.ReloadBackOff = defaultReloadBackOff
	}
	return &Manager{api: api, store: NewStore(), opts: opts}
}

func defaultReloadBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, 4)
}

func (m *Manager) Store() *Store { return m.store }

func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// CreateSession creates a session on the server and makes it active with a
// fresh, empty state. On failure the active session is left untouched.
func (m *Manager) CreateSession(ctx context.Context, req chat.CreateSessionRequest) (*chat.Session, error) {
	created, err := m.api.CreateSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	fresh := &chat.Session{
		ID:        created.ID,
		Title:     created.Title,
		ClientTag: created.ClientTag,
		Status:    created.Status,
		CreatedAt: created.CreatedAt,
		Messages:  []chat.Message{},
	}

	m.mu.Lock()
	m.supersedeLocked()
	m.activeID = created.ID
	m.store.Replace(fresh)
	m.mu.Unlock()

	m.record(ctx, created.ID, storage.Event{
		Kind:    storage.EventKindLifecycle,
		Content: "session created",
		Metadata: map[string]any{
			"title":      created.Title,
			"client_tag": created.ClientTag,
		},
	})
	return fresh, nil
}

// LoadSession fetches id and installs it wholesale as the active session,
// abandoning any turn in flight.
func (m *Manager) LoadSession(ctx context.Context, id string) (*chat.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, chat.ErrEmptySession
	}

	m.mu.Lock()
	epoch := m.supersedeLocked()
	m.mu.Unlock()

	loaded, err := m.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return nil, ErrTurnSuperseded
	}
	m.activeID = id
	m.phase = PhaseIdle
	m.store.Replace(loaded)
	return m.store.Snapshot().Session, nil
}

// SwitchSession makes id the active session. Switching to the session that
// is already active and idle is a no-op.
func (m *Manager) SwitchSession(ctx context.Context, id string) (*chat.Session, error) {
	m.mu.Lock()
	same := m.activeID == strings.TrimSpace(id) && m.phase == PhaseIdle
	m.mu.Unlock()
	if same {
		return m.store.Snapshot().Session, nil
	}
	return m.LoadSession(ctx, id)
}

// Cancel abandons the turn in flight, if any, and fails it in the store.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseStreaming {
		return
	}
	m.store.FailTurn(ErrTurnCancelled)
	m.phase = PhaseIdle
	m.cancelled = m.epoch
	m.supersedeLocked()
}

// SendMessage runs one turn on the active session and blocks until it ends.
// After a done frame the session is reloaded from the server, which
// replaces the streamed messages and usage counters.
func (m *Manager) SendMessage(ctx context.Context, text, fileContent string, mode chat.Mode) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, chat.ErrEmptyMessage
	}

	m.mu.Lock()
	id := m.activeID
	if id == "" {
		m.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	epoch := m.supersedeLocked()
	turnCtx, cancel := context.WithTimeout(ctx, m.opts.TurnTimeout)
	m.cancel = cancel
	m.phase = PhaseStreaming
	m.store.AppendUserMessage(text, fileContent != "")
	m.mu.Unlock()
	defer cancel()

	turnCtx = applog.WithTurnContext(turnCtx, applog.TurnContext{SessionID: id, Epoch: epoch, Mode: string(mode)})
	m.record(turnCtx, id, storage.Event{
		Kind:     storage.EventKindMessage,
		Role:     string(chat.RoleUser),
		Content:  text,
		Metadata: map[string]any{"has_attachment": fileContent != "", "mode": string(mode)},
	})

	result := &TurnResult{SessionID: id, Epoch: epoch}
	start := time.Now()

	stats, err := m.api.StreamTurn(turnCtx, chat.TurnRequest{
		SessionID:   id,
		Message:     text,
		FileContent: fileContent,
		Mode:        mode,
	}, m.handlers(turnCtx, id, epoch, result))
	result.Stats = stats

	if err != nil {
		return result, m.finishFailedTurn(turnCtx, id, epoch, err)
	}

	m.record(turnCtx, id, storage.Event{
		Kind:     storage.EventKindMessage,
		Role:     string(chat.RoleAssistant),
		Content:  m.store.Snapshot().LastAssistant(),
		Duration: time.Since(start),
		Metadata: map[string]any{"malformed_frames": stats.MalformedFrames},
	})

	if err := m.reconcile(ctx, id, epoch); err != nil {
		return result, err
	}
	result.Reconciled = true
	return result, nil
}

// handlers wires stream callbacks to the store. Each callback is dropped
// once a newer turn has started.
func (m *Manager) handlers(ctx context.Context, id string, epoch uint64, result *TurnResult) chat.Handlers {
	return chat.Handlers{
		OnText: func(fragment string) {
			m.apply(epoch, func() { m.store.ApplyTextDelta(fragment) })
		},
		OnToolStart: func(tool string, input map[string]any) {
			m.apply(epoch, func() { m.store.SetToolExecution(tool, input) })
			m.record(ctx, id, storage.Event{Kind: storage.EventKindTool, Tool: &storage.ToolEvent{Name: tool, Phase: "start", Input: input}})
		},
		OnToolComplete: func(tool, summary string) {
			m.apply(epoch, m.store.ClearToolExecution)
			m.record(ctx, id, storage.Event{Kind: storage.EventKindTool, Tool: &storage.ToolEvent{Name: tool, Phase: "complete", Summary: summary}})
		},
		OnToolError: func(tool, message string) {
			m.apply(epoch, m.store.ClearToolExecution)
			m.record(ctx, id, storage.Event{Kind: storage.EventKindTool, Tool: &storage.ToolEvent{Name: tool, Phase: "error", Error: message}})
		},
		OnResults: func(results chat.ApolloResults) {
			m.apply(epoch, func() { m.store.SetStructuredResult(results) })
			m.record(ctx, id, storage.Event{Kind: storage.EventKindResults, Metadata: map[string]any{
				"search_type": results.SearchType,
				"total":       results.Total,
				"returned":    results.Returned,
			}})
		},
		OnUsage: func(usage chat.TurnUsage) {
			m.apply(epoch, func() {
				result.Usage = &usage
				m.store.SetTurnUsage(usage)
			})
		},
		OnDone: func() {
			m.apply(epoch, func() {
				m.store.CompleteTurn()
				m.phase = PhaseReconciling
			})
		},
		OnError: func(err error) {
			m.apply(epoch, func() {
				m.store.FailTurn(err)
				m.phase = PhaseIdle
			})
		},
	}
}

// apply runs fn under the manager lock when epoch is still current.
func (m *Manager) apply(epoch uint64, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return false
	}
	fn()
	return true
}

func (m *Manager) finishFailedTurn(ctx context.Context, id string, epoch uint64, err error) error {
	if errors.Is(err, context.Canceled) {
		err = ErrTurnCancelled
	}

	// OnError has already failed the turn for stream errors; a cancelled
	// turn still has to leave the streaming state.
	current := m.apply(epoch, func() {
		if m.phase == PhaseStreaming {
			m.store.FailTurn(err)
		}
		m.phase = PhaseIdle
		m.cancel = nil
	})
	if !current {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.cancelled == epoch {
			return ErrTurnCancelled
		}
		return ErrTurnSuperseded
	}

	if logger := chat.ContextLogger(ctx); logger != nil {
		logger.LogAttrs(ctx, slog.LevelDebug, "turn failed",
			append(applog.TurnAttrs(ctx), slog.String("error", err.Error()))...)
	}
	m.record(ctx, id, storage.Event{Kind: storage.EventKindError, Error: err.Error()})
	return err
}

// reconcile reloads the session after a completed turn and replaces the
// store's state with the server's view.
func (m *Manager) reconcile(parent context.Context, id string, epoch uint64) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if !m.apply(epoch, func() { m.cancel = cancel }) {
		return ErrTurnSuperseded
	}

	loaded, err := m.fetch(ctx, id)
	if err != nil {
		if !m.apply(epoch, func() {
			m.phase = PhaseIdle
			m.cancel = nil
		}) {
			return ErrTurnSuperseded
		}
		return fmt.Errorf("reload session after turn: %w", err)
	}

	if !m.apply(epoch, func() {
		m.store.Replace(loaded)
		m.phase = PhaseIdle
		m.cancel = nil
	}) {
		return ErrTurnSuperseded
	}
	return nil
}

// fetch loads a session, retrying transient failures.
func (m *Manager) fetch(ctx context.Context, id string) (*chat.Session, error) {
	var loaded *chat.Session
	op := func() error {
		s, err := m.api.GetSession(ctx, id)
		if err != nil {
			if chat.IsTransientError(err) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		loaded = s
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(m.opts.ReloadBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return loaded, nil
}

// supersedeLocked cancels the turn or reload in flight and returns the new
// epoch. Callbacks captured under an older epoch become no-ops.
func (m *Manager) supersedeLocked() uint64 {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.phase == PhaseStreaming {
		m.store.FailTurn(ErrTurnSuperseded)
	}
	m.phase = PhaseIdle
	m.epoch++
	return m.epoch
}

// record appends evt to the local transcript. A failed write never fails
// the turn; it is logged at debug.
func (m *Manager) record(ctx context.Context, id string, evt storage.Event) {
	if m.opts.Recorder == nil {
		return
	}
	err := m.opts.Recorder.Append(id, evt)
	if err == nil {
		return
	}
	logger := chat.ContextLogger(ctx)
	if logger == nil {
		return
	}
	attrs := applog.TurnAttrs(ctx)
	if applog.TurnContextFrom(ctx).SessionID == "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "transcript append failed",
		append(attrs, slog.String("event_kind", string(evt.Kind)), slog.String("error", err.Error()))...)
}
