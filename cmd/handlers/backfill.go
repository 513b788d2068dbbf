package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cryptopulse/internal/narrative"
)

// NewBackfillCmd creates the backfill command group for one-time migrations
func NewBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Backfill derived fields on existing documents",
		Long: `One-time migrations for documents written before a derived field
existed. Each subcommand is idempotent and only touches documents
missing the field.`,
	}

	cmd.AddCommand(newBackfillFingerprintsCmd())
	cmd.AddCommand(newBackfillFocusCmd())
	return cmd
}

func newBackfillFingerprintsCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "fingerprints",
		Short: "Compute content fingerprints for articles that predate dedup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), "fingerprints", dryRun, func(ctx context.Context, b *narrative.Backfiller) (int, error) {
				return b.Fingerprints(ctx, dryRun)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "count candidates without writing")
	return cmd
}

func newBackfillFocusCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Derive focus entities for narratives created before focus tracking",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), "focus", dryRun, func(ctx context.Context, b *narrative.Backfiller) (int, error) {
				return b.Focus(ctx, dryRun)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "count candidates without writing")
	return cmd
}

func runBackfill(ctx context.Context, name string, dryRun bool, fn func(context.Context, *narrative.Backfiller) (int, error)) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(context.Background(), st)

	n, err := fn(ctx, narrative.NewBackfiller(st))
	if err != nil {
		return fmt.Errorf("failed to backfill %s: %w", name, err)
	}

	if dryRun {
		fmt.Printf("🔍 Dry run: %d documents need %s (pass --dry-run=false to write)\n", n, name)
	} else {
		fmt.Printf("✅ Backfilled %s on %d documents\n", name, n)
	}
	return nil
}
