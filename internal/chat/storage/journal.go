package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
)

// Journal hands out one SessionRecorder per session id.
type Journal struct {
	baseDir    string
	cliVersion string

	mu        sync.Mutex
	recorders map[string]*SessionRecorder
}

// NewJournal stores transcripts under <configDir>/chat/sessions.
func NewJournal(configDir, cliVersion string) *Journal {
	return &Journal{
		baseDir:    filepath.Join(configDir, "chat", "sessions"),
		cliVersion: cliVersion,
		recorders:  map[string]*SessionRecorder{},
	}
}

// Recorder returns the recorder for sessionID, creating it on first use.
func (j *Journal) Recorder(sessionID string) (*SessionRecorder, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if r, ok := j.recorders[sessionID]; ok {
		return r, nil
	}
	r, err := NewSessionRecorder(j.baseDir, sessionID, j.cliVersion)
	if err != nil {
		return nil, err
	}
	j.recorders[sessionID] = r
	return r, nil
}

func (j *Journal) Append(sessionID string, evt Event) error {
	r, err := j.Recorder(sessionID)
	if err != nil {
		return err
	}
	return r.AppendEvent(evt)
}

// ReadTranscript returns the recorded events of sessionID without creating
// anything on disk. A session never recorded has no events.
func (j *Journal) ReadTranscript(sessionID string) ([]Event, error) {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return nil, errors.New("session id cannot be empty")
	}

	j.mu.Lock()
	r, ok := j.recorders[trimmed]
	j.mu.Unlock()
	if ok {
		return r.ReadTranscript()
	}
	return readTranscriptFile(filepath.Join(j.baseDir, sanitizeComponent(trimmed), transcriptFileName))
}
