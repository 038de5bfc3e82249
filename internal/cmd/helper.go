package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/prospectr/prospectctl/internal/build"
	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs"
	"github.com/prospectr/prospectctl/internal/config"
	"github.com/prospectr/prospectctl/internal/iostreams"
	"github.com/prospectr/prospectctl/internal/log"
)

// ChatClientFactory builds the API client for the active profile.
type ChatClientFactory func(cfg config.Hook, logger *slog.Logger) (*chat.Client, error)

type ChatClientFactoryKeyType struct{}

var ChatClientFactoryKey = ChatClientFactoryKeyType{}

type Helper interface {
	GetCmd() *cobra.Command
	GetArgs() []string
	GetVerb() (verbs.VerbValue, error)
	GetStreams() *iostreams.IOStreams
	GetConfig() (config.Hook, error)
	GetOutputFormat() (common.OutputFormat, error)
	GetLogger() (*slog.Logger, error)
	GetBuildInfo() (*build.Info, error)
	GetContext() context.Context
	GetChatClient(cfg config.Hook, logger *slog.Logger) (*chat.Client, error)
}

type CommandHelper struct {
	// Cmd is the command being executed
	Cmd *cobra.Command
	// Args are the positional arguments passed to the command
	Args []string
}

func (r *CommandHelper) GetCmd() *cobra.Command {
	return r.Cmd
}

func (r *CommandHelper) GetArgs() []string {
	return r.Args
}

func (r *CommandHelper) GetContext() context.Context {
	if ctx := r.Cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (r *CommandHelper) GetBuildInfo() (*build.Info, error) {
	info, ok := r.GetContext().Value(build.InfoKey).(*build.Info)
	if !ok || info == nil {
		return nil, &ConfigurationError{Err: errors.New("no build info configured")}
	}
	return info, nil
}

func (r *CommandHelper) GetLogger() (*slog.Logger, error) {
	logger, ok := r.GetContext().Value(log.LoggerKey).(*slog.Logger)
	if !ok || logger == nil {
		return nil, &ConfigurationError{Err: errors.New("no logger configured")}
	}
	return logger, nil
}

func (r *CommandHelper) GetVerb() (verbs.VerbValue, error) {
	verb, ok := r.GetContext().Value(verbs.Verb).(verbs.VerbValue)
	if !ok {
		return "", PrepareExecutionErrorMsg(r, "no verb found in context")
	}
	return verb, nil
}

func (r *CommandHelper) GetStreams() *iostreams.IOStreams {
	if s, ok := r.GetContext().Value(iostreams.StreamsKey).(*iostreams.IOStreams); ok && s != nil {
		return s
	}
	return iostreams.NewOSIOStreams()
}

func (r *CommandHelper) GetConfig() (config.Hook, error) {
	cfg, ok := r.GetContext().Value(config.ConfigKey).(config.Hook)
	if !ok || cfg == nil {
		return nil, PrepareExecutionErrorMsg(r, "no config found in context")
	}
	return cfg, nil
}

func (r *CommandHelper) GetOutputFormat() (common.OutputFormat, error) {
	cfg, err := r.GetConfig()
	if err != nil {
		return common.TEXT, err
	}
	format, err := common.OutputFormatStringToIota(cfg.GetString(common.OutputConfigPath))
	if err != nil {
		return common.TEXT, &ConfigurationError{Err: err}
	}
	return format, nil
}

func (r *CommandHelper) GetChatClient(cfg config.Hook, logger *slog.Logger) (*chat.Client, error) {
	factory, ok := r.GetContext().Value(ChatClientFactoryKey).(ChatClientFactory)
	if !ok || factory == nil {
		return nil, PrepareExecutionErrorMsg(r, "no chat client factory configured")
	}
	client, err := factory(cfg, logger)
	if err != nil {
		return nil, PrepareExecutionErrorFromErr(r, err)
	}
	return client, nil
}

func BuildHelper(cmd *cobra.Command, args []string) Helper {
	return &CommandHelper{
		Cmd:  cmd,
		Args: args,
	}
}

// ConfigurationError represents errors caused by bad flags, flag
// combinations, configuration values or environment.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ExecutionError represents a failure after a command was validated:
// network errors, server errors, rejected credentials and the like.
type ExecutionError struct {
	// Msg is the message shown to the user
	Msg string
	Err error
	// Attrs are slog style key/value pairs giving extra context
	Attrs []any
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// TryConvertErrorToAttrs decodes a JSON error body into alternating
// key/value pairs for slog. Non-JSON errors yield nil.
func TryConvertErrorToAttrs(err error) []any {
	var result map[string]any
	if json.Unmarshal([]byte(err.Error()), &result) != nil {
		return nil
	}
	attrs := make([]any, 0, len(result)*2)
	for k, v := range result {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// PrepareExecutionErrorWithHelper is PrepareExecutionError for a Helper.
func PrepareExecutionErrorWithHelper(helper Helper, msg string, err error, attrs ...any) *ExecutionError {
	if helper == nil {
		return PrepareExecutionError(msg, err, nil, attrs...)
	}
	return PrepareExecutionError(msg, err, helper.GetCmd(), attrs...)
}

// PrepareExecutionErrorFromErr wraps err using its own text as the message.
func PrepareExecutionErrorFromErr(helper Helper, err error, attrs ...any) *ExecutionError {
	if err == nil {
		return nil
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	return PrepareExecutionErrorWithHelper(helper, err.Error(), err, attrs...)
}

func PrepareExecutionErrorMsg(helper Helper, msg string, attrs ...any) *ExecutionError {
	if msg == "" {
		return PrepareExecutionErrorWithHelper(helper, msg, errors.New("an unknown error occurred"), attrs...)
	}
	return PrepareExecutionErrorWithHelper(helper, msg, errors.New(msg), attrs...)
}

// PrepareExecutionError builds an ExecutionError and silences cobra's usage
// and error output for cmd, since root prints execution errors itself.
func PrepareExecutionError(msg string, err error, cmd *cobra.Command, attrs ...any) *ExecutionError {
	if cmd != nil {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
	}
	return &ExecutionError{
		Msg:   msg,
		Err:   err,
		Attrs: attrs,
	}
}

// ErrorReport is the printable form of an ExecutionError.
type ErrorReport struct {
	Error   string         `json:"error"             yaml:"error"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Report converts err for the output printers.
func (e *ExecutionError) Report() ErrorReport {
	rep := ErrorReport{Error: e.Msg}
	if rep.Error == "" {
		rep.Error = e.Err.Error()
	}
	for i := 0; i+1 < len(e.Attrs); i += 2 {
		if rep.Details == nil {
			rep.Details = map[string]any{}
		}
		rep.Details[fmt.Sprint(e.Attrs[i])] = e.Attrs[i+1]
	}
	return rep
}
