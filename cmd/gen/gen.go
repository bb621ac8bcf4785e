// Package gen holds commands that generate files from the command tree.
package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation",
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
