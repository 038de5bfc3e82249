package session

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prospectr/prospectctl/internal/chat"
)

// State is a point-in-time copy of one session's observable state.
type State struct {
	// Session is nil until a session is created or loaded.
	Session     *chat.Session
	IsStreaming bool
	CurrentTool *chat.ToolExecution
	Results     *chat.ApolloResults
	TurnUsage   *chat.TurnUsage
	// Error is the message of the last failed turn, cleared by the next turn.
	Error string
	Err   error
}

// LastAssistant returns the content of the most recent assistant message.
func (s State) LastAssistant() string {
	if s.Session == nil {
		return ""
	}
	for i := len(s.Session.Messages) - 1; i >= 0; i-- {
		if s.Session.Messages[i].Role == chat.RoleAssistant {
			return s.Session.Messages[i].Content
		}
	}
	return ""
}

// Store owns the state of the active session. Mutations that arrive while
// no session is loaded are ignored.
type Store struct {
	mu        sync.Mutex
	state     State
	observers []func(State)
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// OnChange registers fn to receive a snapshot after every mutation.
// Observers run synchronously and must not call back into the store's owner.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Snapshot returns a copy that is safe to read while turns stream.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Replace installs session wholesale. The structured results of the last
// turn survive a reload of the same session.
func (s *Store) Replace(session *chat.Session) {
	s.update(func(st *State) bool {
		next := State{Session: cloneSession(session)}
		if st.Session != nil && session != nil && st.Session.ID == session.ID {
			next.Results = st.Results
			next.TurnUsage = st.TurnUsage
		}
		*st = next
		return true
	})
}

// Clear drops the loaded session.
func (s *Store) Clear() {
	s.update(func(st *State) bool {
		*st = State{}
		return true
	})
}

// AppendUserMessage starts a turn: it appends the user's message, enters the
// streaming state and clears what the previous turn left behind.
func (s *Store) AppendUserMessage(text string, hasAttachment bool) {
	s.mutate(func(st *State) {
		st.Session.Messages = append(st.Session.Messages, chat.Message{
			Role:          chat.RoleUser,
			Content:       text,
			HasAttachment: hasAttachment,
			CreatedAt:     s.now().UTC(),
		})
		st.IsStreaming = true
		st.CurrentTool = nil
		st.Results = nil
		st.TurnUsage = nil
		st.Error = ""
		st.Err = nil
	})
}

// ApplyTextDelta grows the trailing assistant message, creating it when the
// last message belongs to someone else.
func (s *Store) ApplyTextDelta(fragment string) {
	s.mutate(func(st *State) {
		msgs := st.Session.Messages
		if n := len(msgs); n > 0 && msgs[n-1].Role == chat.RoleAssistant {
			msgs[n-1].Content += fragment
			return
		}
		st.Session.Messages = append(msgs, chat.Message{
			Role:      chat.RoleAssistant,
			Content:   fragment,
			CreatedAt: s.now().UTC(),
		})
	})
}

// SetToolExecution records the running tool. Outside a streaming turn it is
// ignored so no tool outlives its turn.
func (s *Store) SetToolExecution(tool string, input map[string]any) {
	s.mutate(func(st *State) {
		if !st.IsStreaming {
			return
		}
		st.CurrentTool = &chat.ToolExecution{Tool: tool, Input: maps.Clone(input)}
	})
}

func (s *Store) ClearToolExecution() {
	s.mutate(func(st *State) {
		st.CurrentTool = nil
	})
}

// SetStructuredResult replaces the results snapshot without merging.
func (s *Store) SetStructuredResult(results chat.ApolloResults) {
	s.mutate(func(st *State) {
		st.Results = &results
	})
}

// SetTurnUsage keeps the usage reported for the current turn. The session's
// cumulative counters are left to the next reload.
func (s *Store) SetTurnUsage(usage chat.TurnUsage) {
	s.mutate(func(st *State) {
		st.TurnUsage = &usage
	})
}

// CompleteTurn leaves the streaming state. Usage counters are not touched.
func (s *Store) CompleteTurn() {
	s.mutate(func(st *State) {
		st.IsStreaming = false
		st.CurrentTool = nil
	})
}

// FailTurn leaves the streaming state and records err. Partial assistant
// text stays in place.
func (s *Store) FailTurn(err error) {
	s.mutate(func(st *State) {
		st.IsStreaming = false
		st.CurrentTool = nil
		st.Err = err
		st.Error = ""
		if err != nil {
			st.Error = err.Error()
		}
	})
}

// mutate applies fn when a session is loaded.
func (s *Store) mutate(fn func(*State)) {
	s.update(func(st *State) bool {
		if st.Session == nil {
			return false
		}
		fn(st)
		return true
	})
}

func (s *Store) update(fn func(*State) bool) {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return
	}
	snapshot := s.state.clone()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, observer := range observers {
		observer(snapshot)
	}
}

func (st State) clone() State {
	out := st
	out.Session = cloneSession(st.Session)
	if st.CurrentTool != nil {
		tool := *st.CurrentTool
		tool.Input = maps.Clone(tool.Input)
		out.CurrentTool = &tool
	}
	if st.Results != nil {
		results := *st.Results
		results.Results = slices.Clone(results.Results)
		out.Results = &results
	}
	if st.TurnUsage != nil {
		usage := *st.TurnUsage
		out.TurnUsage = &usage
	}
	return out
}

func cloneSession(s *chat.Session) *chat.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = slices.Clone(s.Messages)
	if out.Messages == nil {
		out.Messages = []chat.Message{}
	}
	out.ICPDraft = maps.Clone(s.ICPDraft)
	if s.Metadata.LastSearch != nil {
		search := *s.Metadata.LastSearch
		search.EntityIDs = slices.Clone(search.EntityIDs)
		out.Metadata.LastSearch = &search
	}
	if s.Metadata.LastEnrichment != nil {
		enrichment := *s.Metadata.LastEnrichment
		enrichment.CompanyIDs = slices.Clone(enrichment.CompanyIDs)
		out.Metadata.LastEnrichment = &enrichment
	}
	return &out
}
