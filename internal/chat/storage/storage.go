package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prospectr/prospectctl/internal/util"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	metadataFileName   = "metadata.json"
	transcriptFileName = "transcript.jsonl"
)

// Metadata summarises a stored transcript.
type Metadata struct {
	SessionID       string    `json:"session_id"`
	RecorderCreated time.Time `json:"recorder_created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	EventCount      int64     `json:"event_count"`
	CLIVersion      string    `json:"cli_version,omitempty"`
}

type EventKind string

const (
	EventKindLifecycle EventKind = "lifecycle"
	EventKindMessage   EventKind = "message"
	EventKindTool      EventKind = "tool"
	EventKindResults   EventKind = "results"
	EventKindError     EventKind = "error"
)

// ToolEvent describes one step of a server-side tool execution.
type ToolEvent struct {
	Name    string         `json:"name"`
	Phase   string         `json:"phase"`
	Input   map[string]any `json:"input,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Event is one line of transcript.jsonl.
type Event struct {
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      EventKind      `json:"kind"`
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Tool      *ToolEvent     `json:"tool,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// SessionRecorder appends transcript events for one session under
// <dir>/<session id>/.
type SessionRecorder struct {
	sessionID      string
	dir            string
	metaPath       string
	transcriptPath string

	mu       sync.Mutex
	metadata Metadata
}

// NewSessionRecorder opens, or starts, the transcript of sessionID below
// baseDir.
func NewSessionRecorder(baseDir, sessionID, cliVersion string) (*SessionRecorder, error) {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return nil, errors.New("session id cannot be empty")
	}

	dir := filepath.Join(baseDir, sanitizeComponent(trimmed))
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	r := &SessionRecorder{
		sessionID:      trimmed,
		dir:            dir,
		metaPath:       filepath.Join(dir, metadataFileName),
		transcriptPath: filepath.Join(dir, transcriptFileName),
	}

	meta, err := r.loadMetadata()
	if err != nil {
		return nil, err
	}
	if meta.SessionID == "" {
		meta.SessionID = trimmed
	}
	if meta.RecorderCreated.IsZero() {
		meta.RecorderCreated = time.Now().UTC()
		meta.UpdatedAt = meta.RecorderCreated
	}
	if v := strings.TrimSpace(cliVersion); v != "" {
		meta.CLIVersion = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = meta
	if err := r.saveMetadataLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SessionRecorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// AppendEvent assigns the next sequence number to evt and appends it.
func (r *SessionRecorder) AppendEvent(evt Event) error {
	if r == nil {
		return nil
	}
	if evt.Kind == "" {
		return errors.New("event kind cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.Timestamp = evt.Timestamp.UTC()
	if evt.Duration < 0 {
		evt.Duration = 0
	}
	evt.Sequence = r.metadata.EventCount + 1

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := appendLine(r.transcriptPath, payload); err != nil {
		return err
	}

	r.metadata.EventCount = evt.Sequence
	r.metadata.UpdatedAt = evt.Timestamp
	return r.saveMetadataLocked()
}

// ReadTranscript returns every event recorded so far, in order.
func (r *SessionRecorder) ReadTranscript() ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return readTranscriptFile(r.transcriptPath)
}

// readTranscriptFile decodes a transcript.jsonl. A missing file holds no
// events.
func readTranscriptFile(path string) ([]Event, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return nil, fmt.Errorf("decode transcript line: %w", err)
		}
		events = append(events, evt)
	}
	return events, nil
}

func (r *SessionRecorder) loadMetadata() (Metadata, error) {
	raw, err := os.ReadFile(r.metaPath)
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (r *SessionRecorder) saveMetadataLocked() error {
	raw, err := json.MarshalIndent(r.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return util.WriteFileAtomic(r.metaPath, raw, defaultFilePerm)
}

func appendLine(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

func sanitizeComponent(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if out := strings.Trim(b.String(), "_"); out != "" {
		return out
	}
	return "session"
}
