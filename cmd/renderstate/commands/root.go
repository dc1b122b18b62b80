package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "renderstate",
		Short: "Renderstate - Resource Lifecycle Reconciliation Engine",
		Long: `Renderstate keeps per-node renderer resources converged with their
desired residency tiers for the Loomview spatial content browser.

Features:
  - Recency-ordered Active/Warm/Cold tiers with capacity cascades
  - Non-blocking create/destroy reconciliation against an async backend
  - Exponential backoff with terminal failure tracking
  - Memory pressure trimming with pinned-node exemption
  - Durable transition journal (SQLite)
  - Structured logging, metrics, tracing and events`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newJournalCommand())

	return rootCmd
}
