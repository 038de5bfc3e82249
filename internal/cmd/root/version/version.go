package version

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/cmd/output"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs"
	"github.com/prospectr/prospectctl/internal/meta"
	"github.com/prospectr/prospectctl/internal/util/normalizers"
)

const (
	Verb = verbs.Version

	ShowCommitFlagName   = "show-commit"
	ShowCommitConfigPath = "version." + ShowCommitFlagName
)

var (
	versionShort   = fmt.Sprintf("Print the %s version", meta.CLIName)
	versionLong    = normalizers.LongDesc(`The version command prints the version and optionally the commit it was built from.`)
	versionExample = normalizers.Examples(fmt.Sprintf(`
		# Print the version
		%[1]s version
		# Include the git commit hash
		%[1]s version --show-commit
		`, meta.CLIName))
)

type versionInfo struct {
	Version string `json:"version"          yaml:"version"`
	Commit  string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Date    string `json:"date,omitempty"   yaml:"date,omitempty"`
}

func NewVersionCmd() *cobra.Command {
	rv := &cobra.Command{
		Use:     Verb.String(),
		Short:   versionShort,
		Long:    versionLong,
		Example: versionExample,
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			return bindFlags(c, args)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	rv.Flags().Bool(ShowCommitFlagName, false,
		fmt.Sprintf(`Include the git commit hash.
- Config path: [ %s ]`, ShowCommitConfigPath))

	return rv
}

func bindFlags(c *cobra.Command, args []string) error {
	cfg, err := cmd.BuildHelper(c, args).GetConfig()
	if err != nil {
		return err
	}
	return cfg.BindFlag(ShowCommitConfigPath, c.Flags().Lookup(ShowCommitFlagName))
}

func run(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	bi, err := helper.GetBuildInfo()
	if err != nil {
		return err
	}

	info := versionInfo{Version: bi.Version}
	if cfg.GetBool(ShowCommitConfigPath) {
		info.Commit = bi.Commit
		info.Date = bi.Date
	}

	return output.Print(helper, info, func(out io.Writer) error {
		return printText(info, out)
	})
}

func printText(info versionInfo, out io.Writer) error {
	line := info.Version
	if info.Commit != "" {
		line += fmt.Sprintf(" (%s)", info.Commit)
	}
	_, err := fmt.Fprintln(out, line)
	return err
}
