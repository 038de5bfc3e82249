package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstLine(t *testing.T) {
	require.Equal(t, "Found 12 people.", FirstLine("  Found 12 people.  "))
	require.Equal(t, "Found 12 people. …", FirstLine("Found 12 people.\n\n| Name |"))
	require.Equal(t, "", FirstLine(""))
}

func TestInitDirThenWriteAtomic(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "nested", "creds.json")

	require.NoError(InitDir(path, 0o700))
	require.NoError(WriteFileAtomic(path, []byte(`{"a":1}`), 0o600))
	require.NoError(WriteFileAtomic(path, []byte(`{"a":2}`), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(err)
	require.Equal(`{"a":2}`, string(data))

	info, err := os.Stat(path)
	require.NoError(err)
	require.Equal(os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(err)
	require.Len(entries, 1)
}
