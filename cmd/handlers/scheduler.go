package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"cryptopulse/internal/config"
	"cryptopulse/internal/tasks"
)

// NewSchedulerCmd creates the scheduler command that enqueues periodic tasks
func NewSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Start the periodic task scheduler",
		Long: `Start the cron-style scheduler that enqueues the periodic tasks
(feed ingestion every 30m, narrative detection every 15m, consolidation
hourly, signal recomputes every 5m, the three daily briefings, weekly
briefing cleanup).

Briefing crons fire in the configured local timezone. Run exactly one
scheduler per deployment; workers can scale out freely.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler()
		},
	}
}

func runScheduler() error {
	sched, err := tasks.NewScheduler(tasks.SchedulerOptions{
		RedisURL: config.GetRedisURL(),
		Location: config.Timezone(),
	})
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	// Run blocks until SIGINT/SIGTERM.
	return sched.Run()
}
