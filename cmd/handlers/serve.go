package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cryptopulse/internal/cache"
	"cryptopulse/internal/config"
	"cryptopulse/internal/cost"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/server"
	"cryptopulse/internal/signals"
	"cryptopulse/internal/tasks"
)

// NewServeCmd creates the serve command for starting the HTTP API
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the read API and admin surface.

The server only reads; ingestion, narrative detection, signal recomputes and
briefing generation happen in the worker. Run 'cryptopulse worker' and
'cryptopulse scheduler' alongside for a full deployment.

Examples:
  # Start on the configured port (default 8080)
  cryptopulse serve

  # Start on a custom port
  cryptopulse serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")

	return cmd
}

func runServe(ctx context.Context, port int, host string) error {
	serverCfg := config.GetServer()
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(context.Background(), st)

	kv := cache.New(config.GetRedisURL())
	defer kv.Close()

	tracker := cost.NewTracker(st, config.GetCost())
	detector := signals.NewDetector(st, kv, config.GetSignals())

	// The trigger endpoint and queue depth need the broker. Without REDIS_URL
	// the API still serves reads; the admin trigger returns 503.
	var queue server.TaskQueue
	if redisURL := config.GetRedisURL(); redisURL != "" {
		client, err := tasks.NewClient(redisURL)
		if err != nil {
			return fmt.Errorf("failed to build task client: %w", err)
		}
		defer client.Close()
		queue = client
	} else {
		logger.Warn("REDIS_URL not set, briefing trigger endpoint disabled")
	}

	srv := server.New(server.Options{
		Store:    st,
		Cache:    kv,
		Signals:  detector,
		Costs:    tracker,
		Queue:    queue,
		Config:   serverCfg,
		Location: config.Timezone(),
		Version:  Version,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("server shutdown initiated", "signal", sig.String())

		timeout := config.Duration(serverCfg.ShutdownTimeout, 15*time.Second)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	return nil
}
