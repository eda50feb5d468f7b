package cli

import (
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X ...cli.version=".
var version = "0.1.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"version": version,
			"name":    "trustgate",
		})
	},
}
