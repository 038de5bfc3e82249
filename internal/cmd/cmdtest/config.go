package cmdtest

import (
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
)

// MockConfigHook serves reads from Values unless the matching Mock func is
// set. Writes go to Values.
type MockConfigHook struct {
	Values  map[string]any
	Profile string
	Path    string

	GetStringMock func(key string) string
	GetBoolMock   func(key string) bool
	SaveMock      func() error
	BindFlagMock  func(string, *pflag.Flag) error
}

func (m *MockConfigHook) Save() error {
	if m.SaveMock != nil {
		return m.SaveMock()
	}
	return nil
}

func (m *MockConfigHook) GetString(key string) string {
	if m.GetStringMock != nil {
		return m.GetStringMock(key)
	}
	return cast.ToString(m.Values[key])
}

func (m *MockConfigHook) GetBool(key string) bool {
	if m.GetBoolMock != nil {
		return m.GetBoolMock(key)
	}
	return cast.ToBool(m.Values[key])
}

func (m *MockConfigHook) GetInt(key string) int {
	return cast.ToInt(m.Values[key])
}

func (m *MockConfigHook) GetIntOrElse(key string, orElse int) int {
	if _, ok := m.Values[key]; !ok {
		return orElse
	}
	return m.GetInt(key)
}

func (m *MockConfigHook) GetDurationOrElse(key string, orElse time.Duration) time.Duration {
	d, err := cast.ToDurationE(m.Values[key])
	if err != nil || d <= 0 {
		return orElse
	}
	return d
}

func (m *MockConfigHook) GetStringSlice(key string) []string {
	return cast.ToStringSlice(m.Values[key])
}

func (m *MockConfigHook) SetString(k string, v string) { m.Set(k, v) }

func (m *MockConfigHook) Set(k string, v any) {
	if m.Values == nil {
		m.Values = map[string]any{}
	}
	m.Values[k] = v
}

func (m *MockConfigHook) Get(k string) any { return m.Values[k] }

// BindFlag copies a changed flag's value, which is enough for commands
// that read the bound key after flag parsing.
func (m *MockConfigHook) BindFlag(configPath string, f *pflag.Flag) error {
	if m.BindFlagMock != nil {
		return m.BindFlagMock(configPath, f)
	}
	if f != nil && f.Changed {
		m.Set(configPath, f.Value.String())
	}
	return nil
}

func (m *MockConfigHook) GetProfile() string {
	if m.Profile == "" {
		return "default"
	}
	return m.Profile
}

func (m *MockConfigHook) GetPath() string { return m.Path }
