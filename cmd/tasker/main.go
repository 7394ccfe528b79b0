// Package main is the entry point for the tasker binary: an HTTP task scheduler
// daemon and a one-shot job runner.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for tasker.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tasker",
		Short: "In-process asynchronous task scheduler",
		Long: `tasker runs jobs on a bounded worker pool with admission interceptors
(batching, Rego policies) and reactors (retry with backoff).

Examples:
  tasker serve --config tasker.yaml
  tasker run sleep --params '{"duration_ms": 200}' --timeout 5s`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML), overrides TASKER_CONFIG")

	rootCmd.AddCommand(newServeCmd(), newRunCmd(), newJobsCmd())
	return rootCmd
}
