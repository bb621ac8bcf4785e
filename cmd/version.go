package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/calypso/internal/meta"
)

var versionJSON bool

func init() {
	VersionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print the build information as JSON")
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of calypso",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := meta.GetInfo()

		if !versionJSON {
			fmt.Fprintln(cmd.OutOrStdout(), info)
			return nil
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}
