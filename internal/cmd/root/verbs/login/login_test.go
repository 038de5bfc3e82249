package login

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prospectr/prospectctl/internal/auth"
	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/cmd/cmdtest"
	"github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/server"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	gw, err := server.New(server.Config{
		Listen:    "127.0.0.1:0",
		Upstream:  "http://127.0.0.1:1",
		Password:  "hunter2",
		Secret:    "0123456789abcdef0123",
		CookieTTL: time.Hour,
	}, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newHelper(t *testing.T, baseURL, stdin string) (*cmdtest.MockHelper, *bytes.Buffer, string) {
	t.Helper()
	c, err := NewLoginCmd()
	require.NoError(t, err)
	require.NoError(t, c.Flags().Set(passwordStdinFlagName, "true"))

	dir := t.TempDir()
	cfg := &cmdtest.MockConfigHook{
		Path:   filepath.Join(dir, "config.yaml"),
		Values: map[string]any{common.BaseURLConfigPath: baseURL},
	}
	helper, out, _ := cmdtest.NewHelper(common.TEXT, cfg)
	helper.Cmd = c
	helper.Streams.In = strings.NewReader(stdin)
	return helper, out, auth.BuildCredentialFilePath(dir, "default")
}

func TestLoginStoresSession(t *testing.T) {
	require := require.New(t)
	srv := newGateway(t)
	helper, out, path := newHelper(t, srv.URL, "hunter2\n")

	require.NoError(run(helper))

	creds, err := auth.LoadCredentials(path)
	require.NoError(err)
	require.Equal(srv.URL, creds.BaseURL)
	require.NotEmpty(creds.Cookie)
	require.False(creds.IsExpired())
	require.Contains(out.String(), "Logged in to "+srv.URL+" (profile default)")
}

func TestLoginWrongPassword(t *testing.T) {
	require := require.New(t)
	srv := newGateway(t)
	helper, _, path := newHelper(t, srv.URL, "nope")

	var execErr *cmd.ExecutionError
	require.ErrorAs(run(helper), &execErr)
	_, err := auth.LoadCredentials(path)
	require.Error(err)
}

func TestLoginEmptyPassword(t *testing.T) {
	var cfgErr *cmd.ConfigurationError
	helper, _, _ := newHelper(t, "http://127.0.0.1:1", "\n")
	require.ErrorAs(t, run(helper), &cfgErr)
}
