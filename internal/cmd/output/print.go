package output

import (
	"io"
	"os"
	"strings"

	"github.com/segmentio/cli"

	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/cmd/common"
	"github.com/prospectr/prospectctl/internal/cmd/output/jq"
	"github.com/prospectr/prospectctl/internal/config"
	"github.com/prospectr/prospectctl/internal/iostreams"
)

// TextFunc renders a command's result for --output text.
type TextFunc func(out io.Writer) error

// Print writes value in the command's output format. --jq is applied to
// json and yaml output. text renders the text format; without it the
// generic text printer is used.
func Print(helper cmd.Helper, value any, text TextFunc) error {
	format, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	out := helper.GetStreams().Out

	settings, err := jq.Resolve(helper.GetCmd().Flags(), cfg)
	if err != nil {
		return err
	}
	if settings.Enabled() {
		filtered, written, err := jq.Apply(value, format, settings, out)
		if err != nil {
			return err
		}
		if written {
			return nil
		}
		value = filtered
	} else if format == common.TEXT && text != nil {
		return text(out)
	}

	return Write(format, value, out)
}

// Write prints value with the segmentio printer for format.
func Write(format common.OutputFormat, value any, out io.Writer) error {
	printer, err := cli.Format(format.String(), out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(value)
	return nil
}

// UseColor resolves the configured color mode for out. In auto mode color
// is used on terminals unless NO_COLOR is set.
func UseColor(cfg config.Hook, out io.Writer) bool {
	mode, err := common.ColorModeStringToIota(strings.ToLower(strings.TrimSpace(cfg.GetString(common.ColorConfigPath))))
	if err != nil {
		mode = common.ColorModeAuto
	}
	switch mode {
	case common.ColorModeAlways:
		return true
	case common.ColorModeNever:
		return false
	default:
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			return false
		}
		return iostreams.IsTerminal(out)
	}
}
