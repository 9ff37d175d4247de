// Package main implements wfhistory, a CLI for fetching and inspecting
// workflow histories used as replay fixtures.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/wfharness/internal/engine"
)

var version = "dev"

// initEngine creates the engine fetch reads history through.
var initEngine = func(ctx context.Context, opts engine.InitOptions) (engine.Engine, error) {
	return engine.Init(ctx, opts)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wfhistory",
	Short: "Fetch and inspect workflow histories",
	Long: `wfhistory pulls workflow histories from a Temporal service and prints
summaries of history files, for use as replay fixtures in tests.

The service connection is configured like the test harness: TEMPORAL_SERVICE_ADDRESS,
TEMPORAL_NAMESPACE, TEMPORAL_API_KEY and TEMPORAL_INTEG_CONFIG.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(inspectCmd)
}
