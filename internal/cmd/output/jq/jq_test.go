package jq

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	cmdcommon "github.com/prospectr/prospectctl/internal/cmd/common"
)

type stubConfig struct {
	values map[string]string
	bools  map[string]bool
}

func (s stubConfig) Save() error                                               { return nil }
func (s stubConfig) GetString(key string) string                               { return s.values[key] }
func (s stubConfig) GetBool(key string) bool                                   { return s.bools[key] }
func (s stubConfig) GetInt(string) int                                         { return 0 }
func (s stubConfig) GetIntOrElse(_ string, orElse int) int                     { return orElse }
func (s stubConfig) GetDurationOrElse(_ string, d time.Duration) time.Duration { return d }
func (s stubConfig) GetStringSlice(string) []string                            { return nil }
func (s stubConfig) SetString(string, string)                                  {}
func (s stubConfig) Set(string, any)                                           {}
func (s stubConfig) Get(string) any                                            { return nil }
func (s stubConfig) BindFlag(string, *pflag.Flag) error                        { return nil }
func (s stubConfig) GetProfile() string                                        { return "default" }
func (s stubConfig) GetPath() string                                           { return "" }

func newCommand() *cobra.Command {
	c := &cobra.Command{Use: "get"}
	AddFlags(c.Flags())
	return c
}

func TestResolveDefaults(t *testing.T) {
	require := require.New(t)

	s, err := Resolve(newCommand().Flags(), nil)
	require.NoError(err)
	require.False(s.Enabled())
	require.Equal(DefaultTheme, s.Theme)
	require.Equal(cmdcommon.ColorModeAuto, s.Color)
}

func TestResolveEmptyFlagMeansIdentity(t *testing.T) {
	c := newCommand()
	require.NoError(t, c.Flags().Set(FlagName, ""))

	s, err := Resolve(c.Flags(), nil)
	require.NoError(t, err)
	require.Equal(t, ".", s.Expression)
}

func TestResolveRawShortFlagWithoutConfig(t *testing.T) {
	c := newCommand()
	require.NoError(t, c.Flags().Parse([]string{"-r", "--jq", ".id"}))

	s, err := Resolve(c.Flags(), nil)
	require.NoError(t, err)
	require.True(t, s.Raw)
	require.Equal(t, ".id", s.Expression)
}

func TestResolveFromConfig(t *testing.T) {
	require := require.New(t)
	cfg := stubConfig{
		values: map[string]string{
			DefaultExpressionConfigPath: ".[].id",
			ThemeConfigPath:             "github",
			cmdcommon.ColorConfigPath:   "never",
		},
		bools: map[string]bool{RawOutputConfigPath: true},
	}

	s, err := Resolve(newCommand().Flags(), cfg)
	require.NoError(err)
	require.Equal(".[].id", s.Expression)
	require.Equal("github", s.Theme)
	require.Equal(cmdcommon.ColorModeNever, s.Color)
	require.True(s.Raw)
}

func TestResolveFlagBeatsConfiguredExpression(t *testing.T) {
	c := newCommand()
	require.NoError(t, c.Flags().Set(FlagName, ".title"))
	cfg := stubConfig{values: map[string]string{DefaultExpressionConfigPath: ".id"}}

	s, err := Resolve(c.Flags(), cfg)
	require.NoError(t, err)
	require.Equal(t, ".title", s.Expression)
}

func TestResolveIgnoresConfigWithoutJQFlag(t *testing.T) {
	cfg := stubConfig{values: map[string]string{DefaultExpressionConfigPath: ".id"}}

	s, err := Resolve((&cobra.Command{Use: "chat"}).Flags(), cfg)
	require.NoError(t, err)
	require.False(t, s.Enabled())
}

func TestValidate(t *testing.T) {
	require := require.New(t)

	require.NoError(Validate(cmdcommon.TEXT, Settings{}))
	require.NoError(Validate(cmdcommon.YAML, Settings{Expression: "."}))
	require.ErrorContains(Validate(cmdcommon.TEXT, Settings{Expression: "."}), "--output json or --output yaml")
	require.ErrorContains(Validate(cmdcommon.JSON, Settings{Raw: true}), "requires --jq")
	require.ErrorContains(Validate(cmdcommon.YAML, Settings{Expression: ".", Raw: true}), "needs --output json")
}

func TestApplyReturnsFilteredValue(t *testing.T) {
	sessions := []map[string]any{
		{"session_uuid": "a", "message_count": 2},
		{"session_uuid": "b", "message_count": 0},
	}
	s := Settings{Expression: "[.[] | select(.message_count > 0) | .session_uuid]", Color: cmdcommon.ColorModeNever}

	out := &bytes.Buffer{}
	result, written, err := Apply(sessions, cmdcommon.JSON, s, out)
	require.NoError(t, err)
	require.False(t, written)
	require.Equal(t, []any{"a"}, result)
	require.Empty(t, out.String())
}

func TestApplyRawWritesLines(t *testing.T) {
	payload := map[string]any{"messages": []any{
		map[string]any{"role": "user", "content": "hi"},
		map[string]any{"role": "assistant", "content": "hello"},
	}}
	s := Settings{Expression: ".messages[] | .content, (.content | length)", Raw: true}

	out := &bytes.Buffer{}
	result, written, err := Apply(payload, cmdcommon.JSON, s, out)
	require.NoError(t, err)
	require.True(t, written)
	require.Nil(t, result)
	require.Equal(t, "hi\n2\nhello\n5\n", out.String())
}

func TestApplyColorizedJSON(t *testing.T) {
	s := Settings{Expression: ".", Color: cmdcommon.ColorModeAlways, Theme: DefaultTheme}

	out := &bytes.Buffer{}
	_, written, err := Apply(map[string]any{"title": "x"}, cmdcommon.JSON, s, out)
	require.NoError(t, err)
	require.True(t, written)
	require.Contains(t, out.String(), "\x1b[")
}

func TestRunRejectsInvalidExpression(t *testing.T) {
	_, err := Run(map[string]any{"a": 1}, ".a[")
	require.ErrorContains(t, err, "invalid jq expression")
}

func TestRunNoResults(t *testing.T) {
	results, err := Run([]any{1, 2}, ".[] | select(. > 5)")
	require.NoError(t, err)
	require.Empty(t, results)
	require.Nil(t, collapse(results))
}
