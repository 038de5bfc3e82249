package session

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/prospectr/prospectctl/internal/build"
	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/chat/storage"
	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/cmd/cmdtest"
	"github.com/prospectr/prospectctl/internal/cmd/common"
)

const sessionID = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"

const sessionJSON = `{
  "session_uuid": "1b4e28ba-2fa1-11d2-883f-0016d3cca427",
  "title": "Italy SEO",
  "client_tag": "acme",
  "status": "active",
  "messages": [
    {"role": "user", "content": "Find SEO specialists in Italy", "created_at": "2026-01-02T10:00:00Z"},
    {"role": "assistant", "content": "Found 12 people.", "created_at": "2026-01-02T10:00:05Z"}
  ],
  "current_icp_draft": null,
  "session_metadata": {},
  "total_cost_usd": 0.0042,
  "message_count": 2,
  "total_apollo_credits": 1,
  "total_claude_input_tokens": 120,
  "total_claude_output_tokens": 40,
  "created_at": "2026-01-02T09:59:00Z"
}`

// newHelper wires c to a chat client backed by handler.
func newHelper(t *testing.T, format common.OutputFormat, c *cobra.Command, handler http.HandlerFunc,
	args ...string,
) (*cmdtest.MockHelper, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &cmdtest.MockConfigHook{Path: filepath.Join(t.TempDir(), "config.yaml")}
	helper, out, _ := cmdtest.NewHelper(format, cfg)
	helper.Cmd = c
	helper.Args = args
	helper.Client = chat.NewClient(srv.URL, srv.Client())
	helper.BuildInfo = &build.Info{Version: "dev"}
	return helper, out
}

func unexpectedRequest(t *testing.T) http.HandlerFunc {
	return func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL)
	}
}

func TestListOptions(t *testing.T) {
	require := require.New(t)

	c := newListCmd()
	require.NoError(c.Flags().Set(common.ClientTagFlagName, " acme "))
	require.NoError(c.Flags().Set(statusFlagName, "Archived"))
	require.NoError(c.Flags().Set(limitFlagName, "5"))
	opts, err := listOptions(c)
	require.NoError(err)
	require.Equal(chat.ListOptions{ClientTag: "acme", Status: chat.StatusArchived, Limit: 5}, opts)

	c = newListCmd()
	require.NoError(c.Flags().Set(statusFlagName, "deleted"))
	_, err = listOptions(c)
	var cfgErr *cmd.ConfigurationError
	require.ErrorAs(err, &cfgErr)

	c = newListCmd()
	require.NoError(c.Flags().Set(offsetFlagName, "-1"))
	_, err = listOptions(c)
	require.ErrorAs(err, &cfgErr)
}

func TestListRejectsBadStatusBeforeCallingTheServer(t *testing.T) {
	c := newListCmd()
	require.NoError(t, c.Flags().Set(statusFlagName, "deleted"))
	helper, _ := newHelper(t, common.TEXT, c, unexpectedRequest(t))

	var cfgErr *cmd.ConfigurationError
	require.ErrorAs(t, runList(helper), &cfgErr)
}

func TestListPrintsTable(t *testing.T) {
	require := require.New(t)

	c := newListCmd()
	require.NoError(c.Flags().Set(statusFlagName, "active"))
	helper, out := newHelper(t, common.TEXT, c, func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/api/chat/sessions", r.URL.Path)
		require.Equal("active", r.URL.Query().Get("status"))
		_, _ = io.WriteString(w, `[`+sessionJSON+`,{"session_uuid":"s-2","message_count":0}]`)
	})

	require.NoError(runList(helper))
	text := out.String()
	require.Contains(text, "ID")
	require.Contains(text, "LAST MESSAGE")
	require.Contains(text, sessionID)
	require.Contains(text, "Italy SEO")
	require.Contains(text, "(untitled)")
	require.Contains(text, "$0.0042")
}

func TestListEmpty(t *testing.T) {
	helper, out := newHelper(t, common.TEXT, newListCmd(), func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	require.NoError(t, runList(helper))
	require.Equal(t, "No sessions.\n", out.String())
}

func TestListJSON(t *testing.T) {
	require := require.New(t)

	helper, out := newHelper(t, common.JSON, newListCmd(), func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[`+sessionJSON+`]`)
	})

	require.NoError(runList(helper))
	var decoded []map[string]any
	require.NoError(json.Unmarshal(out.Bytes(), &decoded))
	require.Len(decoded, 1)
	require.Equal(sessionID, decoded[0]["session_uuid"])
	require.Equal("active", decoded[0]["status"])
}

func TestGetWithTranscript(t *testing.T) {
	require := require.New(t)

	c := newGetCmd()
	require.NoError(c.Flags().Set(transcriptFlagName, "true"))
	helper, out := newHelper(t, common.TEXT, c, func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/api/chat/sessions/"+sessionID, r.URL.Path)
		_, _ = io.WriteString(w, sessionJSON)
	}, " "+sessionID+" ")

	require.NoError(runGet(helper))
	text := out.String()
	require.Contains(text, "Italy SEO ("+sessionID+")\n")
	require.Contains(text, "Messages: 2\n")
	require.Contains(text, "You: Find SEO specialists in Italy")
	require.Contains(text, "Assistant:\n")
	require.Contains(text, "Found 12 people.")
}

func TestGetWithoutTranscript(t *testing.T) {
	helper, out := newHelper(t, common.TEXT, newGetCmd(), func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sessionJSON)
	}, sessionID)

	require.NoError(t, runGet(helper))
	require.NotContains(t, out.String(), "You: ")
}

func TestGetSurfacesNotFound(t *testing.T) {
	helper, _ := newHelper(t, common.TEXT, newGetCmd(), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Session not found"}`)
	}, "missing")

	err := runGet(helper)
	var execErr *cmd.ExecutionError
	require.ErrorAs(t, err, &execErr)
	var apiErr *chat.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestCreateSendsTitleAndClientTag(t *testing.T) {
	require := require.New(t)

	c := newCreateCmd()
	require.NoError(c.Flags().Set(titleFlagName, " Q3 outreach "))
	helper, out := newHelper(t, common.TEXT, c, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(http.MethodPost, r.Method)
		var body chat.CreateSessionRequest
		require.NoError(json.NewDecoder(r.Body).Decode(&body))
		require.Equal("Q3 outreach", body.Title)
		require.Equal("acme", body.ClientTag)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"session_uuid":"new-id","title":"Q3 outreach","client_tag":"acme"}`)
	})
	helper.Config.(*cmdtest.MockConfigHook).Set(common.ClientTagConfigPath, "acme")

	require.NoError(runCreate(helper))
	require.Equal("Created session new-id\n", out.String())
}

func TestArchiveWithYes(t *testing.T) {
	require := require.New(t)

	c := newArchiveCmd()
	require.NoError(c.Flags().Set(cmd.YesFlagName, "true"))
	helper, out := newHelper(t, common.JSON, c, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(http.MethodDelete, r.Method)
		require.Equal("/api/chat/sessions/s-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}, "s-1")

	require.NoError(runArchive(helper))
	require.JSONEq(`{"session_uuid":"s-1","status":"archived"}`, out.String())
}

func TestArchiveTextOutput(t *testing.T) {
	c := newArchiveCmd()
	require.NoError(t, c.Flags().Set(cmd.YesFlagName, "true"))
	helper, out := newHelper(t, common.TEXT, c, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, "s-1")

	require.NoError(t, runArchive(helper))
	require.Equal(t, "Archived session s-1\n", out.String())
}

func TestArchiveDeclinedDoesNotCallTheServer(t *testing.T) {
	require := require.New(t)

	var calls atomic.Int32
	helper, out := newHelper(t, common.TEXT, newArchiveCmd(), func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}, "s-1")
	helper.Streams.In = bytes.NewBufferString("no\n")

	err := runArchive(helper)
	var execErr *cmd.ExecutionError
	require.ErrorAs(err, &execErr)
	require.Equal("archive cancelled", execErr.Msg)
	require.Zero(calls.Load())
	require.Empty(out.String())
}

func TestHistoryWithoutTranscriptCreatesNothing(t *testing.T) {
	require := require.New(t)

	helper, out := newHelper(t, common.TEXT, newHistoryCmd(), unexpectedRequest(t), "never-recorded")
	configDir := filepath.Dir(helper.Config.GetPath())

	require.NoError(runHistory(helper))
	require.Equal("No local transcript.\n", out.String())

	entries, err := os.ReadDir(configDir)
	require.NoError(err)
	require.Empty(entries)
}

func TestHistoryPrintsRecordedEvents(t *testing.T) {
	require := require.New(t)

	helper, out := newHelper(t, common.TEXT, newHistoryCmd(), unexpectedRequest(t), sessionID)
	journal := storage.NewJournal(filepath.Dir(helper.Config.GetPath()), "dev")
	for _, evt := range []storage.Event{
		{Kind: storage.EventKindMessage, Role: "user", Content: "Find SEO specialists\nin Italy"},
		{Kind: storage.EventKindTool, Tool: &storage.ToolEvent{Name: "search_apollo", Phase: "complete", Summary: "Found 12"}},
	} {
		require.NoError(journal.Append(sessionID, evt))
	}

	require.NoError(runHistory(helper))
	text := out.String()
	require.Contains(text, "user: Find SEO specialists …\n")
	require.Contains(text, "tool search_apollo complete: Found 12\n")
}

func TestHistoryJSON(t *testing.T) {
	require := require.New(t)

	helper, out := newHelper(t, common.JSON, newHistoryCmd(), unexpectedRequest(t), "s-1")
	journal := storage.NewJournal(filepath.Dir(helper.Config.GetPath()), "dev")
	require.NoError(journal.Append("s-1", storage.Event{Kind: storage.EventKindError, Error: "turn cancelled"}))

	require.NoError(runHistory(helper))
	var decoded []storage.Event
	require.NoError(json.Unmarshal(out.Bytes(), &decoded))
	require.Len(decoded, 1)
	require.Equal(int64(1), decoded[0].Sequence)
	require.Equal("turn cancelled", decoded[0].Error)
}

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		name string
		evt  storage.Event
		want string
	}{
		{
			name: "message keeps first line",
			evt:  storage.Event{Kind: storage.EventKindMessage, Role: "assistant", Content: "Found 12 people.\nDetails follow."},
			want: "assistant: Found 12 people. …",
		},
		{
			name: "tool start",
			evt:  storage.Event{Kind: storage.EventKindTool, Tool: &storage.ToolEvent{Name: "search_apollo", Phase: "start"}},
			want: "tool search_apollo start",
		},
		{
			name: "tool error",
			evt:  storage.Event{Kind: storage.EventKindTool, Tool: &storage.ToolEvent{Name: "enrich_companies", Phase: "error", Error: "quota exceeded"}},
			want: "tool enrich_companies error: quota exceeded",
		},
		{
			name: "tool without details",
			evt:  storage.Event{Kind: storage.EventKindTool},
			want: "tool",
		},
		{
			name: "results",
			evt: storage.Event{Kind: storage.EventKindResults, Metadata: map[string]any{
				"search_type": "people", "total": 12, "returned": 10,
			}},
			want: "results: people 10 of 12",
		},
		{
			name: "error",
			evt:  storage.Event{Kind: storage.EventKindError, Error: "turn superseded"},
			want: "error: turn superseded",
		},
		{
			name: "lifecycle",
			evt:  storage.Event{Kind: storage.EventKindLifecycle, Content: "session created", Timestamp: time.Now()},
			want: "lifecycle: session created",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, describeEvent(tt.evt))
		})
	}
}
