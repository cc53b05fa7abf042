// Package gen holds the documentation generators of the ams command line.
package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:    "gen",
	Short:  "Generate documentation for the ams command line",
	Hidden: true,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
