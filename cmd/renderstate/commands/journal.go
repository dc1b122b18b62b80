package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomview/renderstate/pkg/config"
	"github.com/loomview/renderstate/pkg/stores"
)

func newJournalCommand() *cobra.Command {
	var journalPath string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the transition journal",
		Long: `Query the durable tier transition journal.

Every journaled row records one tier change: which node moved, from
which tier to which, why, whether the engine forced it, and in which
frame it happened.`,
	}

	cmd.PersistentFlags().StringVar(&journalPath, "journal", "", "journal database path (defaults to the configured path)")

	cmd.AddCommand(newJournalRecentCommand(&journalPath))
	cmd.AddCommand(newJournalNodeCommand(&journalPath))
	cmd.AddCommand(newJournalCausesCommand(&journalPath))
	cmd.AddCommand(newJournalForcedCommand(&journalPath))

	return cmd
}

// openJournal resolves the journal path from the flag or the config file and
// opens it read-ready.
func openJournal(ctx context.Context, journalPath string) (*stores.TransitionJournal, error) {
	path := journalPath
	if path == "" {
		settings, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		if !settings.Journal.Enabled || settings.Journal.Path == "" {
			return nil, fmt.Errorf("no journal path configured; pass --journal or enable the journal in config")
		}
		path = settings.Journal.Path
	}

	journal, err := stores.NewTransitionJournal(stores.JournalConfig{Path: path})
	if err != nil {
		return nil, err
	}
	if err := journal.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := journal.Migrate(ctx); err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return journal, nil
}

func printTransitions(records []*stores.TransitionRecord) error {
	if jsonOutput {
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode records: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(records) == 0 {
		fmt.Println("No transitions found")
		return nil
	}

	fmt.Printf("%-8s %-12s %-8s %-8s %-26s %-7s %s\n",
		"FRAME", "NODE", "FROM", "TO", "CAUSE", "FORCED", "AT")
	for _, r := range records {
		from := r.FromTier
		if from == "" {
			from = "-"
		}
		to := r.ToTier
		if to == "" {
			to = "-"
		}
		fmt.Printf("%-8d %-12s %-8s %-8s %-26s %-7v %s\n",
			r.Frame, r.NodeID, from, to, r.Cause, r.Forced,
			r.At.Format(time.RFC3339))
	}
	return nil
}

func newJournalRecentCommand(journalPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent transitions",
		Example: `  # Last 20 transitions
  renderstate journal recent

  # Last 100 as JSON
  renderstate journal --journal ./renderstate.db recent --limit 100 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			journal, err := openJournal(ctx, *journalPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			records, err := journal.RecentTransitions(ctx, limit)
			if err != nil {
				return err
			}
			return printTransitions(records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")
	return cmd
}

func newJournalNodeCommand(journalPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "node <node-id>",
		Short: "Show one node's transition history",
		Example: `  # History for a node
  renderstate journal node node-004`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			journal, err := openJournal(ctx, *journalPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			records, err := journal.TransitionsForNode(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printTransitions(records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}

func newJournalCausesCommand(journalPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "causes",
		Short: "Aggregate transitions by cause",
		Example: `  # Why have nodes been moving?
  renderstate journal causes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			journal, err := openJournal(ctx, *journalPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			counts, err := journal.CountsByCause(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := json.MarshalIndent(counts, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode counts: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			if len(counts) == 0 {
				fmt.Println("No transitions found")
				return nil
			}
			fmt.Printf("%-30s %s\n", "CAUSE", "COUNT")
			for _, c := range counts {
				fmt.Printf("%-30s %d\n", c.Cause, c.Count)
			}
			return nil
		},
	}

	return cmd
}

func newJournalForcedCommand(journalPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "forced",
		Short: "Show forced demotions",
		Long: `Show transitions the engine forced: capacity cascades and memory
pressure trims. A burst of forced demotions usually means capacities
are set too low for the workload.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			journal, err := openJournal(ctx, *journalPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			records, err := journal.ForcedDemotions(ctx, limit)
			if err != nil {
				return err
			}
			return printTransitions(records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}
