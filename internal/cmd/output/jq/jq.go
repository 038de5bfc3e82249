package jq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/itchyny/gojq"
	"github.com/spf13/pflag"

	cmdpkg "github.com/prospectr/prospectctl/internal/cmd"
	cmdcommon "github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/config"
	"github.com/prospectr/prospectctl/internal/iostreams"
)

const (
	FlagName                    = "jq"
	RawOutputFlagName           = "jq-raw-output"
	RawOutputFlagShort          = "r"
	ThemeFlagName               = "jq-theme"
	DefaultExpressionConfigPath = "jq.default-expression"
	RawOutputConfigPath         = "jq.raw-output"
	ThemeConfigPath             = "jq.theme"
	DefaultTheme                = "friendly"
)

// compiled jq programs keyed by expression
var programs sync.Map

// Settings is the resolved jq behavior of one command invocation.
type Settings struct {
	Expression string
	Raw        bool
	Color      cmdcommon.ColorMode
	Theme      string
}

// Enabled reports whether output should pass through a jq program.
func (s Settings) Enabled() bool {
	return strings.TrimSpace(s.Expression) != ""
}

func AddFlags(flags *pflag.FlagSet) {
	flags.String(FlagName, "",
		fmt.Sprintf(`Filter structured output with a jq expression.
- Config path: [ %s ] (used when the flag is absent)`, DefaultExpressionConfigPath))
	flags.BoolP(RawOutputFlagName, RawOutputFlagShort, false,
		fmt.Sprintf(`Print string results of --%s without JSON quoting.
- Config path: [ %s ]`, FlagName, RawOutputConfigPath))
	flags.String(ThemeFlagName, DefaultTheme,
		fmt.Sprintf(`Syntax highlighting style for colorized --%s results.
- Config path: [ %s ]`, FlagName, ThemeConfigPath))
}

// BindFlags binds the jq flags present in flags to their config paths.
func BindFlags(cfg config.Hook, flags *pflag.FlagSet) error {
	if cfg == nil || flags == nil {
		return nil
	}
	for flag, path := range map[string]string{
		RawOutputFlagName: RawOutputConfigPath,
		ThemeFlagName:     ThemeConfigPath,
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := cfg.BindFlag(path, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resolve reads the jq settings from flags and cfg. Commands that do not
// register --jq never get a filter, even when one is configured.
func Resolve(flags *pflag.FlagSet, cfg config.Hook) (Settings, error) {
	s := Settings{Theme: DefaultTheme, Color: cmdcommon.ColorModeAuto}
	if flags == nil || flags.Lookup(FlagName) == nil {
		return s, nil
	}

	expr, err := flags.GetString(FlagName)
	if err != nil {
		return Settings{}, err
	}
	expr = strings.TrimSpace(expr)
	switch {
	case flags.Changed(FlagName) && expr == "":
		expr = "."
	case !flags.Changed(FlagName) && cfg != nil:
		expr = strings.TrimSpace(cfg.GetString(DefaultExpressionConfigPath))
	}
	s.Expression = expr

	if cfg == nil {
		if f := flags.Lookup(RawOutputFlagName); f != nil {
			s.Raw, _ = flags.GetBool(RawOutputFlagName)
		}
		return s, nil
	}

	s.Raw = cfg.GetBool(RawOutputConfigPath)
	if theme := strings.TrimSpace(cfg.GetString(ThemeConfigPath)); theme != "" {
		s.Theme = theme
	}
	mode, err := cmdcommon.ColorModeStringToIota(strings.ToLower(strings.TrimSpace(cfg.GetString(cmdcommon.ColorConfigPath))))
	if err != nil {
		return Settings{}, &cmdpkg.ConfigurationError{Err: err}
	}
	s.Color = mode
	return s, nil
}

// Validate rejects settings that cannot be honored for format.
func Validate(format cmdcommon.OutputFormat, s Settings) error {
	if s.Raw && !s.Enabled() {
		return &cmdpkg.ConfigurationError{
			Err: fmt.Errorf("--%s requires --%s", RawOutputFlagName, FlagName),
		}
	}
	if !s.Enabled() {
		return nil
	}
	if s.Raw && format != cmdcommon.JSON {
		return &cmdpkg.ConfigurationError{
			Err: fmt.Errorf("--%s needs --output json", RawOutputFlagName),
		}
	}
	if format == cmdcommon.TEXT {
		return &cmdpkg.ConfigurationError{
			Err: fmt.Errorf("--%s needs --output json or --output yaml", FlagName),
		}
	}
	return nil
}

// Apply runs the jq program over value. When the result was written to out
// directly (raw or colorized output) written is true and result is nil;
// otherwise result is handed back for the regular printer.
func Apply(value any, format cmdcommon.OutputFormat, s Settings, out io.Writer) (result any, written bool, err error) {
	if !s.Enabled() {
		return value, false, nil
	}
	if err := Validate(format, s); err != nil {
		return nil, false, err
	}

	results, err := Run(value, s.Expression)
	if err != nil {
		return nil, false, err
	}

	if s.Raw {
		return nil, true, writeRaw(results, out)
	}

	result = collapse(results)
	if format == cmdcommon.JSON && useColor(s.Color, out) {
		body, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, false, err
		}
		_, err = fmt.Fprintln(out, Colorize(string(body), s.Theme))
		return nil, true, err
	}
	return result, false, nil
}

// Run evaluates expr against the JSON form of value and returns every
// emitted result.
func Run(value any, expr string) ([]any, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode output for jq: %w", err)
	}
	var input any
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, fmt.Errorf("decode output for jq: %w", err)
	}

	code, err := program(expr)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq: %w", err)
		}
		results = append(results, v)
	}
	return results, nil
}

func program(expr string) (*gojq.Code, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = "."
	}
	if cached, ok := programs.Load(expr); ok {
		return cached.(*gojq.Code), nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	programs.Store(expr, code)
	return code, nil
}

func collapse(results []any) any {
	switch len(results) {
	case 0:
		return nil
	case 1:
		return results[0]
	default:
		return results
	}
}

func writeRaw(results []any, out io.Writer) error {
	for _, r := range results {
		line, ok := r.(string)
		if !ok {
			b, err := json.Marshal(r)
			if err != nil {
				return err
			}
			line = string(b)
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

var isTerminal = iostreams.IsTerminal

func useColor(mode cmdcommon.ColorMode, out io.Writer) bool {
	switch mode {
	case cmdcommon.ColorModeAlways:
		return true
	case cmdcommon.ColorModeNever:
		return false
	default:
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			return false
		}
		return isTerminal(out)
	}
}

// Colorize highlights a JSON document for a 256 color terminal. Input that
// cannot be tokenized is returned unchanged.
func Colorize(doc, theme string) string {
	lexer := lexers.Get("json")
	formatter := formatters.Get("terminal256")
	if lexer == nil || formatter == nil {
		return doc
	}
	style := styles.Get(theme)
	if style == nil {
		style = styles.Fallback
	}
	iter, err := lexer.Tokenise(nil, doc)
	if err != nil {
		return doc
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iter); err != nil {
		return doc
	}
	return buf.String()
}
