package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cryptopulse/internal/config"
	"cryptopulse/internal/narrative"
)

// NewConsolidateCmd creates the consolidate command for merging duplicate narratives
func NewConsolidateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Find and merge near-duplicate narratives",
		Long: `Scan live narratives for pairs telling the same story and merge the
younger into the older. Merging archives the loser and reassigns its
articles, so the command defaults to a dry run; pass --dry-run=false to
apply. The hourly worker task applies merges automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsolidate(cmd.Context(), dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "report merge candidates without applying them")

	return cmd
}

func runConsolidate(ctx context.Context, dryRun bool) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(context.Background(), st)

	if dryRun {
		fmt.Println("🔬 Consolidation dry run (no merges will be applied)")
	} else {
		fmt.Println("🔀 Consolidating narratives...")
	}

	report, err := narrative.NewConsolidator(st, config.GetMatcher()).Run(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("consolidation failed: %w", err)
	}

	fmt.Println("\nConsolidation report")
	fmt.Println("====================")
	fmt.Printf("narratives scanned:  %d\n", report.Narratives)
	fmt.Printf("nucleus groups:      %d\n", report.Groups)
	fmt.Printf("merge candidates:    %d\n", report.Candidates)
	fmt.Printf("merged:              %d\n", report.Merged)

	for _, d := range report.Decisions {
		verb := "would merge"
		if d.Applied {
			verb = "merged"
		}
		fmt.Printf("  %s %s into %s (%s, similarity %.2f)\n", verb, d.LoserID, d.WinnerID, d.Nucleus, d.Similarity)
	}
	return nil
}
