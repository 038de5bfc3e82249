// Package cmdtest holds test doubles for command implementations.
package cmdtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/prospectr/prospectctl/internal/build"
	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs"
	"github.com/prospectr/prospectctl/internal/config"
	"github.com/prospectr/prospectctl/internal/iostreams"
)

// MockHelper satisfies cmd.Helper. Unset fields fall back to inert
// defaults: a bare command, text output and a discarding logger.
type MockHelper struct {
	Cmd       *cobra.Command
	Args      []string
	Verb      verbs.VerbValue
	Streams   *iostreams.IOStreams
	Config    config.Hook
	Format    common.OutputFormat
	Logger    *slog.Logger
	BuildInfo *build.Info
	Context   context.Context
	Client    *chat.Client
}

func (m *MockHelper) GetCmd() *cobra.Command {
	if m.Cmd == nil {
		m.Cmd = &cobra.Command{Use: "test"}
	}
	return m.Cmd
}

func (m *MockHelper) GetArgs() []string { return m.Args }

func (m *MockHelper) GetVerb() (verbs.VerbValue, error) { return m.Verb, nil }

func (m *MockHelper) GetStreams() *iostreams.IOStreams {
	if m.Streams == nil {
		m.Streams, _, _, _ = iostreams.NewTestIOStreams()
	}
	return m.Streams
}

func (m *MockHelper) GetConfig() (config.Hook, error) {
	if m.Config == nil {
		m.Config = &MockConfigHook{}
	}
	return m.Config, nil
}

func (m *MockHelper) GetOutputFormat() (common.OutputFormat, error) {
	return m.Format, nil
}

func (m *MockHelper) GetLogger() (*slog.Logger, error) {
	if m.Logger == nil {
		m.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m.Logger, nil
}

func (m *MockHelper) GetBuildInfo() (*build.Info, error) {
	if m.BuildInfo == nil {
		return nil, errors.New("no build info")
	}
	return m.BuildInfo, nil
}

func (m *MockHelper) GetContext() context.Context {
	if m.Context == nil {
		return context.Background()
	}
	return m.Context
}

func (m *MockHelper) GetChatClient(config.Hook, *slog.Logger) (*chat.Client, error) {
	if m.Client == nil {
		return nil, errors.New("no chat client")
	}
	return m.Client, nil
}

// NewHelper returns a MockHelper writing to in-memory streams, along with
// its stdout and stderr buffers.
func NewHelper(format common.OutputFormat, cfg config.Hook) (*MockHelper, *bytes.Buffer, *bytes.Buffer) {
	streams, _, out, errOut := iostreams.NewTestIOStreams()
	return &MockHelper{Streams: streams, Format: format, Config: cfg}, out, errOut
}
