package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"cryptopulse/internal/briefing"
	"cryptopulse/internal/core"
	"cryptopulse/internal/ingest"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/narrative"
)

// Detection pass bounds: how far back the unassigned-article query reaches
// and how many articles one pass will take on.
const (
	defaultDetectWindow = 72 * time.Hour
	defaultDetectLimit  = 500
)

// Ingester runs one full ingestion pass.
type Ingester interface {
	Run(ctx context.Context) (*ingest.Report, error)
}

// NarrativeProcessor assigns unassigned articles to narratives.
type NarrativeProcessor interface {
	ProcessUnassigned(ctx context.Context, since time.Time, limit int) (*narrative.BatchStats, error)
}

// Consolidator runs one narrative consolidation pass.
type Consolidator interface {
	Run(ctx context.Context, dryRun bool) (*narrative.Report, error)
}

// SignalRefresher recomputes the canonical trending snapshot.
type SignalRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// BriefingGenerator generates briefings and prunes old ones.
type BriefingGenerator interface {
	Generate(ctx context.Context, opts briefing.GenerateOptions) (*core.Briefing, error)
	Cleanup(ctx context.Context) (int64, error)
}

// Handlers owns the worker-side task implementations.
type Handlers struct {
	ingest       Ingester
	narratives   NarrativeProcessor
	consolidator Consolidator
	signals      SignalRefresher
	briefings    BriefingGenerator
	detectWindow time.Duration
	detectLimit  int
	now          func() time.Time
}

// HandlerOptions wires the domain components into the worker.
type HandlerOptions struct {
	Ingest       Ingester
	Narratives   NarrativeProcessor
	Consolidator Consolidator
	Signals      SignalRefresher
	Briefings    BriefingGenerator
}

// NewHandlers builds the task handlers.
func NewHandlers(opts HandlerOptions) *Handlers {
	return &Handlers{
		ingest:       opts.Ingest,
		narratives:   opts.Narratives,
		consolidator: opts.Consolidator,
		signals:      opts.Signals,
		briefings:    opts.Briefings,
		detectWindow: defaultDetectWindow,
		detectLimit:  defaultDetectLimit,
		now:          time.Now,
	}
}

// Register attaches every catalog task to the mux and returns the registered
// names for catalog verification.
func (h *Handlers) Register(mux *asynq.ServeMux) []string {
	entries := []struct {
		name string
		fn   asynq.HandlerFunc
	}{
		{TaskFetchNews, h.fetchNews},
		{TaskDetectNarratives, h.detectNarratives},
		{TaskConsolidateNarratives, h.consolidateNarratives},
		{TaskComputeSignals, h.computeSignals},
		{TaskMorningBriefing, h.briefingHandler(core.BriefingMorning)},
		{TaskAfternoonBriefing, h.briefingHandler(core.BriefingAfternoon)},
		{TaskEveningBriefing, h.briefingHandler(core.BriefingEvening)},
		{TaskCleanupBriefings, h.cleanupBriefings},
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		mux.HandleFunc(e.name, e.fn)
		names = append(names, e.name)
	}
	return names
}

func (h *Handlers) fetchNews(ctx context.Context, _ *asynq.Task) error {
	report, err := h.ingest.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to run ingestion pass: %w", err)
	}
	logger.Info("fetch_news done",
		"persisted", report.Persisted, "failed", report.Failed)
	return nil
}

func (h *Handlers) detectNarratives(ctx context.Context, _ *asynq.Task) error {
	since := h.now().Add(-h.detectWindow)
	stats, err := h.narratives.ProcessUnassigned(ctx, since, h.detectLimit)
	if err != nil {
		return fmt.Errorf("failed to run narrative detection: %w", err)
	}
	logger.Info("detect_narratives done",
		"processed", stats.Processed,
		"extended", stats.Extended,
		"created", stats.Created,
		"reactivated", stats.Reactivated,
		"failed", stats.Failed)
	return nil
}

func (h *Handlers) consolidateNarratives(ctx context.Context, _ *asynq.Task) error {
	report, err := h.consolidator.Run(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to run consolidation: %w", err)
	}
	logger.Info("consolidate_narratives done",
		"candidates", report.Candidates, "merged", report.Merged)
	return nil
}

func (h *Handlers) computeSignals(ctx context.Context, _ *asynq.Task) error {
	n, err := h.signals.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("failed to recompute signals: %w", err)
	}
	logger.Info("compute_signals done", "signals", n)
	return nil
}

// briefingPayload rides on manually triggered briefing tasks. Scheduled runs
// carry no payload and use the defaults.
type briefingPayload struct {
	Force   bool `json:"force"`
	IsSmoke bool `json:"is_smoke"`
}

func (h *Handlers) briefingHandler(bt core.BriefingType) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload briefingPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				// A malformed payload never parses better on retry.
				return fmt.Errorf("failed to parse briefing payload: %v: %w", err, asynq.SkipRetry)
			}
		}

		taskID, _ := asynq.GetTaskID(ctx)
		b, err := h.briefings.Generate(ctx, briefing.GenerateOptions{
			Type:    bt,
			Force:   payload.Force,
			IsSmoke: payload.IsSmoke,
			TaskID:  taskID,
		})
		if errors.Is(err, briefing.ErrAlreadyGenerated) {
			// The day guard makes reruns a no-op, not a failure.
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to generate %s briefing: %w", bt, err)
		}
		logger.Info("briefing task done", "type", bt, "briefing_id", b.ID)
		return nil
	}
}

func (h *Handlers) cleanupBriefings(ctx context.Context, _ *asynq.Task) error {
	deleted, err := h.briefings.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("failed to clean up briefings: %w", err)
	}
	logger.Info("cleanup_old_briefings done", "deleted", deleted)
	return nil
}
