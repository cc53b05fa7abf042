package gen

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/ams/internal/meta"
)

var (
	manDir     string
	manSection string
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for the ams command line",
	Long: `Generate up-to-date man pages for every ams command. The pages are
written to the "man" directory under the current directory unless --dir
says otherwise.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		header := &doc.GenManHeader{
			Title:   "AMS",
			Section: manSection,
			Manual:  "ams Manual",
			Source:  fmt.Sprintf("ams %s", meta.Version),
		}

		if err := os.MkdirAll(manDir, 0750); err != nil {
			return fmt.Errorf("Failed to create %s: %w", manDir, err)
		}

		root := cmd.Root()
		root.DisableAutoGenTag = true

		fmt.Fprintln(out, "Generating ams man pages in", manDir)

		if err := doc.GenManTree(root, header, manDir); err != nil {
			return err
		}

		fmt.Fprintln(out, "Done.")
		return nil
	},
}

func init() {
	flags := ManPagesCmd.Flags()

	flags.StringVar(&manDir, "dir", "man", "the directory to write the man pages to")
	flags.StringVar(&manSection, "section", "1", "the man section of the pages")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
