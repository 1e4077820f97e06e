// Command orchestratorctl is the operator CLI for the supervisor/worker
// orchestration core: schema migrations against the configured database,
// plus starting, inspecting, cancelling, and streaming runs against a
// running orchestratord instance over its HTTP run-control API.
//
// # Environment Variables
//
//   - ORCHESTRATOR_CONFIG: path to configuration file (default: orchestrator.yaml)
//   - ORCHESTRATOR_SERVER: base URL of a running orchestratord (default: derived from config)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "orchestratorctl",
		Short:         "Operate the supervisor/worker orchestration core",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
	}
	root.AddCommand(
		buildMigrateCmd(),
		buildRunCmd(),
	)
	return root
}

// defaultConfigPath mirrors orchestratord's own config resolution: an
// explicit flag wins, then ORCHESTRATOR_CONFIG, then a local default file.
func defaultConfigPath() string {
	if v := os.Getenv("ORCHESTRATOR_CONFIG"); v != "" {
		return v
	}
	return "orchestrator.yaml"
}
