package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/prospectr/prospectctl/internal/cmd"
	"github.com/prospectr/prospectctl/internal/cmd/output"
	"github.com/prospectr/prospectctl/internal/cmd/output/jq"
	"github.com/prospectr/prospectctl/internal/cmd/root/verbs"
	"github.com/prospectr/prospectctl/internal/meta"
	"github.com/prospectr/prospectctl/internal/util/normalizers"
)

const Verb = verbs.Upload

var (
	uploadLong = normalizers.LongDesc(`
	Upload a document and print the text the server extracted from it. The
	same text is what chat --attach sends along with a message.`)
	uploadExamples = normalizers.Examples(fmt.Sprintf(`
	# Print the text extracted from a brief
	%[1]s upload brief.pdf

	# Only the character count
	%[1]s upload brief.pdf -o json --jq '.content | length'
	`, meta.CLIName))
)

func NewUploadCmd() (*cobra.Command, error) {
	c := &cobra.Command{
		Use:     Verb.String() + " <file>",
		Short:   "Extract the text of a document",
		Long:    uploadLong,
		Example: uploadExamples,
		Args:    cobra.ExactArgs(1),
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			cfg, err := cmd.BuildHelper(c, args).GetConfig()
			if err != nil {
				return err
			}
			return jq.BindFlags(cfg, c.Flags())
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}
	jq.AddFlags(c.Flags())
	return c, nil
}

func run(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}
	client, err := helper.GetChatClient(cfg, logger)
	if err != nil {
		return err
	}

	path := helper.GetArgs()[0]
	up, err := client.UploadFile(helper.GetContext(), path)
	if err != nil {
		return cmd.PrepareExecutionError("upload failed", err, helper.GetCmd(), "path", path)
	}

	return output.Print(helper, up, func(out io.Writer) error {
		_, err := fmt.Fprintln(out, up.Content)
		return err
	})
}
