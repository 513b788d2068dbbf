package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cryptopulse/internal/cache"
	"cryptopulse/internal/config"
	"cryptopulse/internal/cost"
)

// NewIngestCmd creates the ingest command for a one-shot ingestion pass
func NewIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run one feed ingestion pass",
		Long: `Fetch every active feed once, screen the items (dedupe, relevance),
enrich the survivors through LLM entity extraction, and persist articles and
entity mentions.

This is the same pass the worker runs every 30 minutes. Re-running is safe:
already-ingested URLs are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context())
		},
	}
}

func runIngest(ctx context.Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(context.Background(), st)

	kv := cache.New(config.GetRedisURL())
	defer kv.Close()

	client, err := buildLLM(st, kv, cost.NewTracker(st, config.GetCost()))
	if err != nil {
		return err
	}

	fmt.Println("📡 Fetching feeds...")
	report, err := buildIngest(st, client).Run(ctx)
	if err != nil {
		return fmt.Errorf("ingestion pass failed: %w", err)
	}

	fmt.Println("\nIngestion report")
	fmt.Println("================")
	fmt.Printf("feeds fetched:      %d (%d not modified, %d failed)\n",
		report.Fetch.Fetched, report.Fetch.NotModified, report.Fetch.Failed)
	fmt.Printf("items seen:         %d\n", report.Seen)
	fmt.Printf("duplicate url:      %d\n", report.DuplicateURL)
	fmt.Printf("duplicate content:  %d\n", report.DuplicateContent)
	fmt.Printf("irrelevant:         %d\n", report.Irrelevant)
	fmt.Printf("llm extracted:      %d\n", report.Extracted)
	fmt.Printf("rule fallback:      %d\n", report.RuleFallback)
	fmt.Printf("persisted:          %d (%d entity mentions)\n", report.Persisted, report.MentionRows)
	if report.Failed > 0 {
		fmt.Printf("⚠️  failed:          %d\n", report.Failed)
	}
	return nil
}
