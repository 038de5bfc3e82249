package viper

import (
	"strings"

	"github.com/prospectr/prospectctl/internal/util"
	v "github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g.
// PROSPECTCTL_DEFAULT_API_BASE_URL.
const EnvPrefix = "PROSPECTCTL"

// InitializeDefaultViper loads path, seeding it with defaultValues when the
// file is missing or empty.
func InitializeDefaultViper(defaultValues map[string]any, path string) (*v.Viper, error) {
	if err := util.InitDir(path, 0o755); err != nil {
		return nil, err
	}

	rv := NewViper(path)
	if len(rv.AllSettings()) > 0 {
		return rv, nil
	}
	if err := rv.MergeConfigMap(defaultValues); err != nil {
		return nil, err
	}
	if err := rv.WriteConfig(); err != nil {
		return nil, err
	}
	return rv, nil
}

// NewViperE reads path strictly.
func NewViperE(path string) (*v.Viper, error) {
	rv := newEnvViper(path)
	if err := rv.ReadInConfig(); err != nil {
		return nil, err
	}
	return rv, nil
}

// NewViper reads path if it exists and otherwise returns an env-only viper.
func NewViper(path string) *v.Viper {
	rv := newEnvViper(path)
	_ = rv.ReadInConfig()
	return rv
}

// ConfigureEnvVars makes vip resolve keys from environment variables under
// prefix, mapping dots and dashes to underscores.
func ConfigureEnvVars(vip *v.Viper, prefix string) {
	vip.SetEnvPrefix(prefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()
}

func newEnvViper(path string) *v.Viper {
	rv := v.New()
	rv.SetConfigFile(path)
	ConfigureEnvVars(rv, EnvPrefix)
	return rv
}
