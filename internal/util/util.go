package util

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// InitDir creates the parent directory of path.
func InitDir(path string, mode fs.FileMode) error {
	return os.MkdirAll(filepath.Dir(os.ExpandEnv(path)), mode)
}

// WriteFileAtomic writes data to a temp file beside path and renames it into
// place so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// FirstLine returns the first non-empty line of s, marked with an ellipsis
// when more text follows.
func FirstLine(s string) string {
	s = strings.TrimSpace(s)
	line, rest, found := strings.Cut(s, "\n")
	line = strings.TrimSpace(line)
	if found && strings.TrimSpace(rest) != "" {
		return line + " …"
	}
	return line
}
