package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"cryptopulse/internal/cache"
	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/signals"
)

var (
	signalHeaderStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	signalEmergingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
)

// NewSignalsCmd creates the signals command for a one-shot trending computation
func NewSignalsCmd() *cobra.Command {
	var (
		limit      int
		minScore   float64
		entityType string
		timeframe  string
	)

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Compute and print trending signals",
		Long: `Score the entities mentioned inside the timeframe by mention volume,
velocity, source diversity and narrative presence, and print the ranked
list. Served from the signal cache when a recent recompute exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignals(cmd.Context(), limit, minScore, entityType, timeframe)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max signals to print")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum signal score [0,1]")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "filter by entity type (ticker, project, person, organization, event, concept)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "mention window (default from config: 24h)")

	return cmd
}

func runSignals(ctx context.Context, limit int, minScore float64, entityType, timeframe string) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(context.Background(), st)

	kv := cache.New(config.GetRedisURL())
	defer kv.Close()

	detector := signals.NewDetector(st, kv, config.GetSignals())
	q := detector.DefaultQuery()
	q.Limit = limit
	q.MinScore = minScore
	if entityType != "" {
		q.EntityType = core.EntityType(entityType)
	}
	if timeframe != "" {
		q.Timeframe = timeframe
	}

	sigs, err := detector.Trending(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to compute signals: %w", err)
	}

	fmt.Println(signalHeaderStyle.Render(fmt.Sprintf("Trending signals (%s window)", q.Timeframe)))
	if len(sigs) == 0 {
		fmt.Println("no signals above the threshold")
		return nil
	}

	fmt.Printf("%-4s %-24s %-14s %7s %9s %8s %6s\n",
		"#", "entity", "type", "score", "vel/hr", "sources", "sent")
	fmt.Println(strings.Repeat("-", 78))
	for i, sig := range sigs {
		entity := sig.Entity
		if sig.IsEmerging {
			entity = signalEmergingStyle.Render(entity + " *")
		}
		fmt.Printf("%-4d %-24s %-14s %7.3f %9.2f %8d %+6.2f\n",
			i+1, entity, sig.EntityType, sig.SignalScore, sig.Velocity, sig.SourceCount, sig.Sentiment)
		for _, ref := range sig.Narratives {
			fmt.Printf("     └ %s\n", ref.Theme)
		}
	}
	fmt.Println("\n* emerging: first sighting inside the window")
	return nil
}
