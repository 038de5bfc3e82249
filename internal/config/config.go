package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/meta"
	"github.com/prospectr/prospectctl/internal/util/viper"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

const defaultConfigFileName = "config.yaml"

// GetDefaultConfigPath returns $XDG_CONFIG_HOME/prospectctl, falling back to
// ~/.config/prospectctl.
func GetDefaultConfigPath() (string, error) {
	val, set := os.LookupEnv("XDG_CONFIG_HOME")
	if !set || val == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		val = filepath.Join(home, ".config")
	}
	return os.ExpandEnv(filepath.Join(val, meta.CLIName)), nil
}

func GetDefaultConfigFilePath() (string, error) {
	path, err := GetDefaultConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(path, defaultConfigFileName), nil
}

// GetConfig loads the configuration at path for profile. An explicit path
// must exist; the default path is created and seeded on first use.
func GetConfig(path string, profile string, defaultConfigFilePath string) (*ProfiledConfig, error) {
	path = os.ExpandEnv(path)

	if _, err := os.Stat(path); err == nil {
		vip, err := viper.NewViperE(path)
		if err != nil {
			return nil, err
		}
		return BuildProfiledConfig(profile, path, vip), nil
	}

	if path != defaultConfigFilePath {
		return nil, fmt.Errorf("the provided config file path does not exist: %s", path)
	}

	vip, err := viper.InitializeDefaultViper(getDefaultConfig(profile, path), path)
	if err != nil {
		return nil, err
	}
	return BuildProfiledConfig(profile, path, vip), nil
}

type Key struct{}

var ConfigKey = Key{}

// Hook is the narrow view of the configuration that commands depend on.
type Hook interface {
	Save() error
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
	GetIntOrElse(key string, orElse int) int
	GetDurationOrElse(key string, orElse time.Duration) time.Duration
	GetStringSlice(key string) []string
	SetString(key string, value string)
	Set(k string, v any)
	Get(key string) any
	BindFlag(configPath string, f *pflag.Flag) error
	GetProfile() string
	GetPath() string
}

// ProfiledConfig scopes reads and writes to one profile section of the
// config file.
type ProfiledConfig struct {
	*v.Viper
	subViper    *v.Viper
	ProfileName string
	Path        string
}

func (p *ProfiledConfig) GetProfile() string { return p.ProfileName }

func (p *ProfiledConfig) GetPath() string { return p.Path }

func (p *ProfiledConfig) Save() error {
	p.Viper.Set(p.ProfileName, p.subViper.AllSettings())
	return p.WriteConfig()
}

func (p *ProfiledConfig) Get(key string) any { return p.subViper.Get(key) }

func (p *ProfiledConfig) GetString(key string) string { return p.subViper.GetString(key) }

func (p *ProfiledConfig) GetBool(key string) bool { return p.subViper.GetBool(key) }

func (p *ProfiledConfig) GetInt(key string) int { return p.subViper.GetInt(key) }

func (p *ProfiledConfig) GetIntOrElse(key string, orElse int) int {
	if p.subViper.IsSet(key) {
		return p.subViper.GetInt(key)
	}
	return orElse
}

// GetDurationOrElse parses key as a Go duration, returning orElse when the
// key is unset or unparsable.
func (p *ProfiledConfig) GetDurationOrElse(key string, orElse time.Duration) time.Duration {
	raw := strings.TrimSpace(p.subViper.GetString(key))
	if raw == "" {
		return orElse
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return orElse
	}
	return d
}

func (p *ProfiledConfig) GetStringSlice(key string) []string { return p.subViper.GetStringSlice(key) }

func (p *ProfiledConfig) BindFlag(configPath string, f *pflag.Flag) error {
	return p.subViper.BindPFlag(configPath, f)
}

func (p *ProfiledConfig) SetString(k string, val string) { p.subViper.Set(k, val) }

func (p *ProfiledConfig) Set(k string, val any) { p.subViper.Set(k, val) }

// ProfileEnvPrefix returns the env prefix for profile-scoped overrides,
// e.g. PROSPECTCTL_TEAM_A for profile "team-a".
func ProfileEnvPrefix(profile string) string {
	return viper.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(profile, "-", "_"))
}

func BuildProfiledConfig(profile string, path string, mainv *v.Viper) *ProfiledConfig {
	subv := mainv.Sub(profile)
	if subv == nil {
		// No section for the profile. Sub would have carried the env prefix
		// and the profile key, so a fresh viper needs both spelled out.
		subv = v.New()
		viper.ConfigureEnvVars(subv, ProfileEnvPrefix(profile))
	}

	return &ProfiledConfig{
		Viper:       mainv,
		ProfileName: profile,
		subViper:    subv,
		Path:        path,
	}
}

func getDefaultConfig(profileName, configFilePath string) map[string]any {
	logPath := filepath.Join(filepath.Dir(configFilePath), "logs", meta.CLIName+".log")

	return map[string]any{
		profileName: map[string]any{
			common.OutputConfigPath:  common.DefaultOutputFormat,
			common.LogFileConfigPath: logPath,
			"api": map[string]any{
				"base-url": common.DefaultBaseURL,
			},
			"chat": map[string]any{
				"mode":         common.DefaultChatMode,
				"turn-timeout": common.DefaultTurnTimeout,
			},
		},
	}
}
