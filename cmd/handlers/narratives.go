package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"cryptopulse/internal/core"
	"cryptopulse/internal/tui"
)

var narrativeTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))

// NewNarrativesCmd creates the narratives command for inspecting active narratives
func NewNarrativesCmd() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "narratives",
		Short: "List active narratives",
		Long: `Print the active narratives ranked by last update. With --watch the
list becomes a live terminal monitor that refreshes on an interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNarratives(cmd.Context(), watch, interval, limit)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "live monitor instead of a one-shot list")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "refresh interval for --watch")
	cmd.Flags().IntVar(&limit, "limit", 20, "max narratives to list")

	return cmd
}

func runNarratives(ctx context.Context, watch bool, interval time.Duration, limit int) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(context.Background(), st)

	if watch {
		return tui.Watch(st, interval)
	}

	narratives, err := st.ActiveNarratives(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list narratives: %w", err)
	}

	fmt.Println(narrativeTitleStyle.Render(fmt.Sprintf("Active narratives (%d)", len(narratives))))
	if len(narratives) == 0 {
		fmt.Println("none yet. Run `cryptopulse ingest` and `cryptopulse detect` first.")
		return nil
	}

	fmt.Printf("%-11s %-34s %7s %5s %6s  %s\n", "state", "title", "vel/d", "arts", "sent", "nucleus")
	fmt.Println(strings.Repeat("-", 88))
	for _, n := range narratives {
		title := n.Title
		if len(title) > 34 {
			title = title[:31] + "..."
		}
		marker := " "
		if n.LifecycleState == core.StateHot {
			marker = "🔥"
		}
		fmt.Printf("%-11s %-34s %7.1f %5d %+6.2f  %s%s\n",
			n.LifecycleState, title, n.Velocity, n.ArticleCount, n.AvgSentiment, n.NucleusEntity, marker)
	}
	return nil
}
