package main

import (
	"github.com/spf13/cobra"
)

// buildMigrateCmd creates the "migrate" command group for applying and
// inspecting the core's CockroachDB schema.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply and inspect database schema migrations",
	}
	cmd.AddCommand(
		buildMigrateUpCmd(),
		buildMigrateDownCmd(),
		buildMigrateStatusCmd(),
	)
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var configPath string
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Example: `  # Apply every pending migration
  orchestratorctl migrate up

  # Apply only the next migration
  orchestratorctl migrate up --steps 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, configPath, steps)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to YAML configuration file")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 applies all pending)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var configPath string
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Example: `  # Roll back the most recently applied migration
  orchestratorctl migrate down

  # Roll back the three most recent migrations
  orchestratorctl migrate down --steps 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd, configPath, steps)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to YAML configuration file")
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to YAML configuration file")
	return cmd
}
