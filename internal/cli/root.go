package cli

import (
	"github.com/spf13/cobra"
)

var buildVersion = "dev"

func SetVersion(v string) {
	buildVersion = v
}

var rootCmd = &cobra.Command{
	Use:   "sitemirror",
	Short: "sitemirror — clone websites into versioned component libraries",
	Long: `sitemirror captures a live website, extracts its sections into a component
library, and snapshots the generated output as immutable versions with
pixel-level fidelity reports against the original.

All state is stored under ~/.sitemirror/ (SQLite for version metadata and
pipeline events, JSON for job state and checkpoints).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
}
