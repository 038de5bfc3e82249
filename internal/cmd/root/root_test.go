package root

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prospectr/prospectctl/internal/build"
	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/iostreams"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunVersionJSON(t *testing.T) {
	require := require.New(t)
	path := writeConfig(t, "default:\n  output: text\n")
	streams, _, out, _ := iostreams.NewTestIOStreams()

	code := run(context.Background(), streams, &build.Info{Version: "1.4.0"},
		[]string{"version", "-o", "json", "--config-file", path})

	require.Equal(0, code)
	require.JSONEq(`{"version":"1.4.0"}`, out.String())
}

func TestRunProfileFromConfig(t *testing.T) {
	require := require.New(t)
	path := writeConfig(t, "team-a:\n  output: yaml\n  version:\n    show-commit: true\n")
	streams, _, out, _ := iostreams.NewTestIOStreams()

	code := run(context.Background(), streams, &build.Info{Version: "1.4.0", Commit: "9c1e2f7"},
		[]string{"version", "--config-file", path, "--profile", "team-a"})

	require.Equal(0, code)
	require.Contains(out.String(), "version: 1.4.0")
	require.Contains(out.String(), "commit: 9c1e2f7")
}

func TestRunMissingConfigFile(t *testing.T) {
	streams, _, _, _ := iostreams.NewTestIOStreams()
	code := run(context.Background(), streams, &build.Info{},
		[]string{"version", "--config-file", filepath.Join(t.TempDir(), "nope.yaml")})
	require.Equal(t, 1, code)
}

func TestPrintExecutionError(t *testing.T) {
	require := require.New(t)
	execErr := cmd.PrepareExecutionError("failed to archive session", errors.New("status 404"), nil)

	var text bytes.Buffer
	printExecutionError(execErr, "text", &text)
	require.Equal("Error: failed to archive session\n", text.String())

	var js bytes.Buffer
	printExecutionError(execErr, "json", &js)
	require.Contains(js.String(), `"error"`)
	require.Contains(js.String(), "failed to archive session")
}
