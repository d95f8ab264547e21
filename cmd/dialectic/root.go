package main

import (
	"github.com/spf13/cobra"

	"github.com/kestrel-ai/dialectic/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dialectic",
	Short: "Multi-stage AI contribution job orchestration engine",
	Long: `Dialectic orchestrates multi-model AI contribution generation: it fans
a single stage request out into a DAG of typed jobs, dispatches each job
to the correct processor, retries partial failures, continues truncated
model outputs, and streams lifecycle notifications.

Typical usage:
  dialectic store start     # Start the local datastore container
  dialectic config init     # Write a default config.yaml
  dialectic worker          # Run the job worker loop`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.dialectic/config.yaml)",
	)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(configCmd)
}
