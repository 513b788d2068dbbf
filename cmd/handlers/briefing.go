package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cryptopulse/internal/briefing"
	"cryptopulse/internal/cache"
	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/cost"
	"cryptopulse/internal/signals"
)

// NewBriefingCmd creates the briefing command for generating a briefing on demand
func NewBriefingCmd() *cobra.Command {
	var (
		briefingType string
		force        bool
		smoke        bool
	)

	cmd := &cobra.Command{
		Use:   "briefing",
		Short: "Generate a briefing now",
		Long: `Generate a morning, afternoon or evening briefing outside the schedule.
Each type is generated at most once per local day unless --force is set.
--smoke marks the result as a pipeline check so readers never see it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBriefing(cmd.Context(), briefingType, force, smoke)
		},
	}

	cmd.Flags().StringVar(&briefingType, "type", "morning", "briefing type: morning, afternoon or evening")
	cmd.Flags().BoolVar(&force, "force", false, "regenerate even if one exists for today")
	cmd.Flags().BoolVar(&smoke, "smoke", false, "mark as a smoke test (hidden from the API)")

	return cmd
}

func runBriefing(ctx context.Context, briefingType string, force, smoke bool) error {
	if !core.ValidBriefingType(briefingType) {
		return fmt.Errorf("invalid briefing type %q (want morning, afternoon or evening)", briefingType)
	}
	bt := core.BriefingType(briefingType)

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(context.Background(), st)

	kv := cache.New(config.GetRedisURL())
	defer kv.Close()

	tracker := cost.NewTracker(st, config.GetCost())
	client, err := buildLLM(st, kv, tracker)
	if err != nil {
		return err
	}

	detector := signals.NewDetector(st, kv, config.GetSignals())
	generator := briefing.NewGenerator(briefing.Options{
		Store:    st,
		Signals:  detector,
		LLM:      client,
		Config:   config.GetBriefing(),
		Location: config.Timezone(),
	})

	fmt.Printf("📰 Generating %s briefing...\n", bt)
	b, err := generator.Generate(ctx, briefing.GenerateOptions{
		Type:    bt,
		Force:   force,
		IsSmoke: smoke,
	})
	if errors.Is(err, briefing.ErrAlreadyGenerated) {
		fmt.Printf("A %s briefing already exists for today. Use --force to regenerate.\n", bt)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to generate briefing: %w", err)
	}

	fmt.Printf("✅ Briefing %s generated at %s\n", b.ID, b.GeneratedAt.In(config.Timezone()).Format("15:04 MST"))
	fmt.Printf("   model: %s, confidence: %.2f (%d refinement passes)\n",
		b.Metadata.Model, b.Metadata.Confidence, b.Metadata.RefinementIterations)
	fmt.Printf("   narratives: %d, signals: %d, patterns: %d\n",
		b.Metadata.NarrativeCount, b.Metadata.SignalCount, b.Metadata.PatternCount)

	fmt.Println()
	fmt.Println(b.Content.Narrative)
	if len(b.Content.KeyInsights) > 0 {
		fmt.Println("\nKey insights:")
		for _, ins := range b.Content.KeyInsights {
			fmt.Printf("  • %s\n", ins)
		}
	}
	if len(b.Content.Recommendations) > 0 {
		fmt.Println("\nWatch next:")
		for _, rec := range b.Content.Recommendations {
			fmt.Printf("  • %s\n", rec.Title)
		}
	}
	return nil
}
