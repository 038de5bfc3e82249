package common

import (
	"fmt"
	"slices"
)

// OutputFormat is the rendering format for command output.
type OutputFormat int

type ColorMode int

const (
	JSON OutputFormat = iota
	YAML
	TEXT
)

const (
	ColorModeAuto ColorMode = iota
	ColorModeAlways
	ColorModeNever
)

var (
	OutputFormats = []string{"json", "yaml", "text"}
	ColorModes    = []string{"auto", "always", "never"}
	LogLevels     = []string{"trace", "debug", "info", "warn", "error"}
	ChatModes     = []string{"prospecting", "all"}
)

const (
	DefaultOutputFormat = "text"
	OutputFlagName      = "output"
	OutputFlagShort     = "o"
	OutputConfigPath    = OutputFlagName

	ColorFlagName    = "color"
	ColorConfigPath  = ColorFlagName
	DefaultColorMode = "auto"

	ColorThemeFlagName   = "color-theme"
	ColorThemeConfigPath = "color.theme"

	ProfileFlagName  = "profile"
	ProfileFlagShort = "p"

	ConfigFilePathFlagName = "config-file"

	LogLevelFlagName   = "log-level"
	DefaultLogLevel    = "info"
	LogLevelConfigPath = LogLevelFlagName

	LogFileFlagName   = "log-file"
	LogFileConfigPath = LogFileFlagName

	BaseURLFlagName   = "base-url"
	BaseURLConfigPath = "api.base-url"
	DefaultBaseURL    = "http://localhost:8000"

	ChatModeFlagName    = "mode"
	ChatModeConfigPath  = "chat.mode"
	DefaultChatMode     = "prospecting"
	TurnTimeoutFlagName = "turn-timeout"
	// TurnTimeoutConfigPath holds a Go duration string.
	TurnTimeoutConfigPath = "chat.turn-timeout"
	DefaultTurnTimeout    = "5m"
	ClientTagFlagName     = "client-tag"
	ClientTagConfigPath   = "chat.client-tag"

	ServeListenConfigPath       = "serve.listen"
	DefaultServeListen          = "127.0.0.1:8080"
	ServeUpstreamConfigPath     = "serve.upstream"
	ServePasswordConfigPath     = "serve.password"
	ServeSecretConfigPath       = "serve.secret"
	ServeCookieTTLConfigPath    = "serve.cookie-ttl"
	DefaultServeCookieTTL       = "24h"
	ServeSecureCookieConfigPath = "serve.secure-cookie"
	ServeOriginsConfigPath      = "serve.allowed-origins"
)

func (of OutputFormat) String() string {
	return OutputFormats[of]
}

func OutputFormatStringToIota(format string) (OutputFormat, error) {
	i := slices.Index(OutputFormats, format)
	if i < 0 {
		return TEXT, fmt.Errorf("invalid output format %q, must be one of %v", format, OutputFormats)
	}
	return OutputFormat(i), nil
}

func (cm ColorMode) String() string {
	if int(cm) < len(ColorModes) {
		return ColorModes[cm]
	}
	return "auto"
}

func ColorModeStringToIota(mode string) (ColorMode, error) {
	if mode == "" {
		return ColorModeAuto, nil
	}
	i := slices.Index(ColorModes, mode)
	if i < 0 {
		return ColorModeAuto, fmt.Errorf("invalid color mode %q, must be one of %v", mode, ColorModes)
	}
	return ColorMode(i), nil
}
