package server

import (
	"net/http"

	"cryptopulse/internal/cache"
	"cryptopulse/internal/core"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/store"
)

// Trailing-day defaults and bound for the cost aggregations.
const (
	defaultCostDays = 7
	maxCostDays     = 90
)

func (s *Server) handleTriggerBriefing(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Task queue is not configured")
		return
	}

	raw := r.URL.Query().Get("type")
	if !core.ValidBriefingType(raw) {
		respondError(w, http.StatusBadRequest, "Unknown briefing type")
		return
	}
	bt := core.BriefingType(raw)
	force := queryBool(r, "force")
	isSmoke := queryBool(r, "is_smoke")

	taskID, err := s.queue.EnqueueBriefing(r.Context(), bt, force, isSmoke)
	if err != nil {
		logger.Error("failed to enqueue briefing", err, "type", bt)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue briefing task")
		return
	}

	logger.Info("briefing task enqueued", "type", bt, "task_id", taskID, "force", force, "is_smoke", isSmoke)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"task_id": taskID,
		"type":    bt,
	})
}

func (s *Server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	if s.costs == nil {
		respondError(w, http.StatusServiceUnavailable, "Cost tracking is not configured")
		return
	}
	summary, err := s.costs.GetSummary(r.Context())
	if err != nil {
		logger.Error("cost summary failed", err)
		respondError(w, http.StatusInternalServerError, "Failed to aggregate costs")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCostDaily(w http.ResponseWriter, r *http.Request) {
	if s.costs == nil {
		respondError(w, http.StatusServiceUnavailable, "Cost tracking is not configured")
		return
	}
	days := costDays(r)
	daily, err := s.costs.Daily(r.Context(), days)
	if err != nil {
		logger.Error("daily costs failed", err)
		respondError(w, http.StatusInternalServerError, "Failed to aggregate costs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"days":  days,
		"daily": emptyIfNil(daily),
	})
}

func (s *Server) handleCostByModel(w http.ResponseWriter, r *http.Request) {
	if s.costs == nil {
		respondError(w, http.StatusServiceUnavailable, "Cost tracking is not configured")
		return
	}
	days := costDays(r)
	models, err := s.costs.ByModel(r.Context(), days)
	if err != nil {
		logger.Error("model costs failed", err)
		respondError(w, http.StatusInternalServerError, "Failed to aggregate costs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"days":   days,
		"models": emptyIfNil(models),
	})
}

func costDays(r *http.Request) int {
	days := queryInt(r, "days", defaultCostDays)
	if days < 1 {
		days = 1
	}
	if days > maxCostDays {
		days = maxCostDays
	}
	return days
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	var snapshot *cache.Stats
	if s.cache != nil {
		st := s.cache.GetStats()
		snapshot = &st
	}

	var llm *store.LLMCacheStats
	if stats, err := s.store.GetLLMCacheStats(r.Context()); err != nil {
		logger.Warn("llm cache stats unavailable", "error", err.Error())
	} else {
		llm = stats
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"snapshot_cache": snapshot,
		"llm_cache":      llm,
	})
}

func (s *Server) handleCacheClearExpired(w http.ResponseWriter, r *http.Request) {
	purged := 0
	if s.cache != nil {
		purged = s.cache.PurgeExpired()
	}

	deleted, err := s.store.DeleteExpiredLLMCache(r.Context())
	if err != nil {
		logger.Error("llm cache cleanup failed", err)
		respondError(w, http.StatusInternalServerError, "Failed to clear expired entries")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"local_purged": purged,
		"llm_deleted":  deleted,
	})
}
