package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	utilviper "github.com/prospectr/prospectctl/internal/util/viper"
	"github.com/stretchr/testify/require"
)

func TestBuildProfiledConfig_ProfileEnvWithDashes(t *testing.T) {
	t.Setenv("PROSPECTCTL_TEAM_A_API_BASE_URL", "https://app.example.com")

	profile := "team-a"
	mainv := utilviper.NewViper("nonexistent.yaml")
	mainv.Set(profile, map[string]any{})

	cfg := BuildProfiledConfig(profile, "nonexistent.yaml", mainv)

	require.Equal(t, "https://app.example.com", cfg.GetString("api.base-url"))
}

func TestGetConfigProfileEnvWithProfileInFile(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(os.WriteFile(path, []byte("team-a:\n  api:\n    base-url: http://localhost:8000\n"), 0o600))
	t.Setenv("PROSPECTCTL_TEAM_A_SERVE_PASSWORD", "s3cret")
	t.Setenv("PROSPECTCTL_TEAM_A_TEAM_A_SERVE_PASSWORD", "doubled")
	t.Setenv("PROSPECTCTL_TEAM_A_API_BASE_URL", "https://app.example.com")

	cfg, err := GetConfig(path, "team-a", "/elsewhere/config.yaml")
	require.NoError(err)

	require.Equal("s3cret", cfg.GetString("serve.password"))
	require.Equal("https://app.example.com", cfg.GetString("api.base-url"))
}

func TestGetConfigProfileEnvWithoutProfileInFile(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(os.WriteFile(path, []byte("default:\n  output: text\n"), 0o600))
	t.Setenv("PROSPECTCTL_STAGING_SERVE_SECRET", "0123456789abcdef")

	cfg, err := GetConfig(path, "staging", "/elsewhere/config.yaml")
	require.NoError(err)

	require.Equal("0123456789abcdef", cfg.GetString("serve.secret"))
}

func TestGetConfigSeedsDefaultFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := GetDefaultConfigFilePath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "prospectctl", "config.yaml"), path)

	cfg, err := GetConfig(path, "default", path)
	require.NoError(t, err)

	require := require.New(t)
	require.Equal("text", cfg.GetString("output"))
	require.Equal("http://localhost:8000", cfg.GetString("api.base-url"))
	require.Equal(5*time.Minute, cfg.GetDurationOrElse("chat.turn-timeout", time.Second))
	require.Equal(filepath.Join(dir, "prospectctl", "logs", "prospectctl.log"), cfg.GetString("log-file"))
}

func TestGetConfigRejectsMissingExplicitPath(t *testing.T) {
	_, err := GetConfig(filepath.Join(t.TempDir(), "missing.yaml"), "default", "/elsewhere/config.yaml")
	require.Error(t, err)
}

func TestGetDurationOrElse(t *testing.T) {
	cfg := BuildProfiledConfig("default", "nonexistent.yaml", utilviper.NewViper("nonexistent.yaml"))

	cfg.SetString("chat.turn-timeout", "nonsense")
	require.Equal(t, time.Minute, cfg.GetDurationOrElse("chat.turn-timeout", time.Minute))

	cfg.SetString("chat.turn-timeout", "45s")
	require.Equal(t, 45*time.Second, cfg.GetDurationOrElse("chat.turn-timeout", time.Minute))
}
