package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cryptopulse/internal/briefing"
	"cryptopulse/internal/cache"
	"cryptopulse/internal/config"
	"cryptopulse/internal/cost"
	"cryptopulse/internal/narrative"
	"cryptopulse/internal/signals"
	"cryptopulse/internal/tasks"
)

// NewWorkerCmd creates the worker command for processing queued tasks
func NewWorkerCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start the task queue worker",
		Long: `Start the worker that executes the periodic pipeline tasks: feed
ingestion, narrative detection and consolidation, signal recomputes, briefing
generation and cleanup.

Tasks are delivered over the Redis-backed queue. Pair with
'cryptopulse scheduler' to enqueue them on their cron schedule, or enqueue
manually through the admin API. The worker runs until interrupted and drains
in-flight tasks on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), concurrency)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent task handlers (default from config: 8)")

	return cmd
}

func runWorker(ctx context.Context, concurrency int) error {
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

	handlers := tasks.NewHandlers(tasks.HandlerOptions{
		Ingest:       buildIngest(st, client),
		Narratives:   narrative.NewService(st, config.GetMatcher()),
		Consolidator: narrative.NewConsolidator(st, config.GetMatcher()),
		Signals:      detector,
		Briefings:    generator,
	})

	if concurrency == 0 {
		concurrency = config.GetWorker().Concurrency
	}
	worker, err := tasks.NewWorker(tasks.WorkerOptions{
		RedisURL:    config.GetRedisURL(),
		Handlers:    handlers,
		Concurrency: concurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to build worker: %w", err)
	}

	// Run blocks until SIGINT/SIGTERM and drains in-flight tasks itself.
	return worker.Run()
}
