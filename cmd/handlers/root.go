/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cryptopulse/internal/config"
)

// Version is stamped into /api/v1/status and --version output.
const Version = "0.3.0"

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "cryptopulse",
		Short:   "cryptopulse tracks crypto news narratives and trading signals",
		Version: Version,
		Long: `cryptopulse ingests crypto news feeds, extracts entities with LLM
assistance, groups articles into living narratives, and derives trending
signals and twice-reviewed daily briefings from them.

Long-running processes:
  serve       HTTP API
  worker      task queue worker (ingestion, detection, signals, briefings)
  scheduler   cron-style enqueuer for the periodic tasks

One-shot operations (useful for cron-less setups and debugging):
  ingest, detect, consolidate, signals, briefing, backfill, costs,
  narratives, sources`,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cryptopulse.yaml)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewWorkerCmd())
	rootCmd.AddCommand(NewSchedulerCmd())
	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewSourcesCmd())
	rootCmd.AddCommand(NewDetectCmd())
	rootCmd.AddCommand(NewConsolidateCmd())
	rootCmd.AddCommand(NewSignalsCmd())
	rootCmd.AddCommand(NewBriefingCmd())
	rootCmd.AddCommand(NewBackfillCmd())
	rootCmd.AddCommand(NewCostsCmd())
	rootCmd.AddCommand(NewNarrativesCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if _, err := config.Load(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if config.Get().App.ConfigFile != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", config.Get().App.ConfigFile)
	}
}
