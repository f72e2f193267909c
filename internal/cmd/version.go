package cmd

import (
	"encoding/json"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		deps := crucible.GetVersion()
		info := map[string]string{
			"version":    versionInfo.Version,
			"commit":     versionInfo.Commit,
			"build_date": versionInfo.BuildDate,
			"go_version": runtime.Version(),
			"crucible":   deps.Crucible,
			"gofulmen":   deps.Gofulmen,
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write version", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
