// Package tasks defines the scheduled task catalog and runs it on asynq: a
// scheduler process turns cron entries into queued tasks, worker processes
// consume them, and the HTTP API enqueues manual briefing runs through the
// same queue.
package tasks

import (
	"fmt"
	"time"

	"cryptopulse/internal/core"
)

// Canonical task names. Scheduler registrations and worker handlers must use
// these exact strings; VerifyCatalog enforces the match at worker start.
const (
	TaskFetchNews             = "fetch_news"
	TaskDetectNarratives      = "detect_narratives"
	TaskConsolidateNarratives = "consolidate_narratives"
	TaskComputeSignals        = "compute_signals"
	TaskMorningBriefing       = "generate_morning_briefing"
	TaskAfternoonBriefing     = "generate_afternoon_briefing"
	TaskEveningBriefing       = "generate_evening_briefing"
	TaskCleanupBriefings      = "cleanup_old_briefings"
)

// Spec is one catalog row: when a task runs, how often it retries, and how
// long it may hold a worker slot.
type Spec struct {
	Name     string
	Cron     string
	MaxRetry int
	Timeout  time.Duration
	// RetryDelay overrides the default backoff for the n-th retry (n starts
	// at 1). Nil means asynq's default curve.
	RetryDelay func(n int) time.Duration
}

// Catalog returns the full schedule. Briefing crons are evaluated in the
// configured local timezone by the scheduler, not UTC.
func Catalog() []Spec {
	return []Spec{
		{
			Name:     TaskFetchNews,
			Cron:     "*/30 * * * *",
			MaxRetry: 3,
			Timeout:  10 * time.Minute,
			// Exponential from 30s: 30s, 1m, 2m.
			RetryDelay: func(n int) time.Duration {
				if n < 1 {
					n = 1
				}
				return 30 * time.Second << uint(n-1)
			},
		},
		{
			Name:     TaskDetectNarratives,
			Cron:     "*/15 * * * *",
			MaxRetry: 2,
			Timeout:  15 * time.Minute,
		},
		{
			Name:     TaskConsolidateNarratives,
			Cron:     "0 * * * *",
			MaxRetry: 1,
			Timeout:  10 * time.Minute,
		},
		{
			Name:     TaskComputeSignals,
			Cron:     "*/5 * * * *",
			MaxRetry: 2,
			Timeout:  2 * time.Minute,
		},
		{
			Name:     TaskMorningBriefing,
			Cron:     "0 8 * * *",
			MaxRetry: 2,
			Timeout:  10 * time.Minute,
			// The morning slot retries after a fixed pause so a provider
			// outage at 08:00 sharp gets a real chance to clear.
			RetryDelay: func(int) time.Duration { return 5 * time.Minute },
		},
		{
			Name:     TaskAfternoonBriefing,
			Cron:     "0 14 * * *",
			MaxRetry: 2,
			Timeout:  10 * time.Minute,
		},
		{
			Name:     TaskEveningBriefing,
			Cron:     "0 20 * * *",
			MaxRetry: 2,
			Timeout:  10 * time.Minute,
		},
		{
			Name:     TaskCleanupBriefings,
			Cron:     "0 3 * * 0",
			MaxRetry: 1,
			Timeout:  5 * time.Minute,
		},
	}
}

// SpecFor looks up a catalog row by task name.
func SpecFor(name string) (Spec, bool) {
	for _, spec := range Catalog() {
		if spec.Name == name {
			return spec, true
		}
	}
	return Spec{}, false
}

// BriefingTaskName maps a briefing slot to its task name.
func BriefingTaskName(bt core.BriefingType) string {
	return fmt.Sprintf("generate_%s_briefing", bt)
}

// verifyCatalog checks that the registered handler names cover the catalog
// exactly. A drifted name would otherwise leave scheduled tasks dying
// silently in the retry queue.
func verifyCatalog(registered []string) error {
	seen := make(map[string]bool, len(registered))
	for _, name := range registered {
		if seen[name] {
			return fmt.Errorf("task %q registered twice", name)
		}
		seen[name] = true
	}
	for _, spec := range Catalog() {
		if !seen[spec.Name] {
			return fmt.Errorf("task %q has no registered handler", spec.Name)
		}
		delete(seen, spec.Name)
	}
	for name := range seen {
		return fmt.Errorf("handler %q is not in the task catalog", name)
	}
	return nil
}
