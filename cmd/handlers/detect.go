package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cryptopulse/internal/config"
	"cryptopulse/internal/narrative"
)

// NewDetectCmd creates the detect command for a one-shot narrative pass
func NewDetectCmd() *cobra.Command {
	var (
		hours int
		limit int
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one narrative detection pass",
		Long: `Match LLM-enriched articles that have no narrative yet against the
live narratives: extend on a match, reactivate dormant stories, or seed new
narratives. Also sweeps lifecycle states (emerging, rising, hot, cooling,
dormant) by current velocity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd.Context(), hours, limit)
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 72, "how far back to look for unassigned articles")
	cmd.Flags().IntVar(&limit, "limit", 500, "max articles to process in this pass")

	return cmd
}

func runDetect(ctx context.Context, hours, limit int) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(context.Background(), st)

	svc := narrative.NewService(st, config.GetMatcher())
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	fmt.Printf("🔍 Matching articles since %s...\n", since.Format(time.RFC3339))
	stats, err := svc.ProcessUnassigned(ctx, since, limit)
	if err != nil {
		return fmt.Errorf("detection pass failed: %w", err)
	}

	fmt.Println("\nDetection report")
	fmt.Println("================")
	fmt.Printf("processed:    %d\n", stats.Processed)
	fmt.Printf("extended:     %d\n", stats.Extended)
	fmt.Printf("created:      %d\n", stats.Created)
	fmt.Printf("reactivated:  %d\n", stats.Reactivated)
	fmt.Printf("skipped:      %d\n", stats.Skipped)
	if stats.Failed > 0 {
		fmt.Printf("⚠️  failed:    %d\n", stats.Failed)
	}
	return nil
}
