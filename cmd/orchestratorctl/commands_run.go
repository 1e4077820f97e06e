package main

import (
	"os"

	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command group for starting and controlling
// runs against a live orchestratord over its HTTP run-control API.
func buildRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start, inspect, cancel, and stream runs",
	}
	cmd.AddCommand(
		buildRunStartCmd(),
		buildRunGetCmd(),
		buildRunCancelCmd(),
		buildRunEventsCmd(),
	)
	return cmd
}

func addAPIKeyFlag(cmd *cobra.Command, apiKey *string) {
	cmd.Flags().StringVar(apiKey, "api-key", os.Getenv("ORCHESTRATOR_API_KEY"), "pre-shared API key for the run-control API")
}

func addServerFlags(cmd *cobra.Command, configPath, server *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath(), "path to YAML configuration file")
	cmd.Flags().StringVar(server, "server", "", "orchestratord base URL (default: derived from config)")
}

func buildRunStartCmd() *cobra.Command {
	var configPath, server, apiKey, threadID, model, reasoningHint, message string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run and block until it completes or interrupts",
		Example: `  orchestratorctl run start --thread t1 --message "triage the failing job"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath, server, apiKey, threadID, model, reasoningHint, message)
		},
	}
	addServerFlags(cmd, &configPath, &server)
	addAPIKeyFlag(cmd, &apiKey)
	cmd.Flags().StringVar(&threadID, "thread", "", "thread id to continue (required)")
	cmd.Flags().StringVar(&model, "model", "", "model override for this run")
	cmd.Flags().StringVar(&reasoningHint, "reasoning-effort", "", "reasoning effort hint passed to the model")
	cmd.Flags().StringVar(&message, "message", "", "the message that starts the run (required)")
	return cmd
}

func buildRunGetCmd() *cobra.Command {
	var configPath, server, apiKey string
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a run's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, configPath, server, apiKey, args[0])
		},
	}
	addServerFlags(cmd, &configPath, &server)
	addAPIKeyFlag(cmd, &apiKey)
	return cmd
}

func buildRunCancelCmd() *cobra.Command {
	var configPath, server, apiKey string
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd, configPath, server, apiKey, args[0])
		},
	}
	addServerFlags(cmd, &configPath, &server)
	addAPIKeyFlag(cmd, &apiKey)
	return cmd
}

func buildRunEventsCmd() *cobra.Command {
	var configPath, server, apiKey string
	var since int64
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Stream a run's event log, replaying from --since",
		Example: `  # Follow a run's events from the beginning
  orchestratorctl run events run_abc123

  # Resume after a dropped connection
  orchestratorctl run events run_abc123 --since 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, configPath, server, apiKey, args[0], since)
		},
	}
	addServerFlags(cmd, &configPath, &server)
	addAPIKeyFlag(cmd, &apiKey)
	cmd.Flags().Int64Var(&since, "since", 0, "replay events after this event id")
	return cmd
}
