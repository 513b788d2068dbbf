package handlers

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"cryptopulse/internal/config"
	"cryptopulse/internal/cost"
)

var costPanelStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("63")).
	Padding(0, 2)

// NewCostsCmd creates the costs command for the LLM spend report
func NewCostsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show LLM API spend",
		Long: `Summarize LLM API spend from the call ledger: today, month to date,
a projection for the month, and a per-model breakdown. Alert thresholds
default to $0.50/day and $10/month; override with cost.daily_alert_usd
and cost.monthly_alert_usd.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCosts(cmd.Context(), days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "days of history for the per-model breakdown")
	return cmd
}

func runCosts(ctx context.Context, days int) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(context.Background(), st)

	tracker := cost.NewTracker(st, config.GetCost())
	summary, err := tracker.GetSummary(ctx)
	if err != nil {
		return fmt.Errorf("failed to summarize costs: %w", err)
	}
	byModel, err := tracker.ByModel(ctx, days)
	if err != nil {
		return fmt.Errorf("failed to break down costs by model: %w", err)
	}

	fmt.Println(costPanelStyle.Render(cost.FormatSummary(summary, byModel)))
	return nil
}
