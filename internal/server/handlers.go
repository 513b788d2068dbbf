package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"cryptopulse/internal/core"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/store"
	"cryptopulse/internal/tasks"
)

// embeddedArticleCap bounds how many recent articles ride along on a single
// narrative read.
const embeddedArticleCap = 10

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type statusResponse struct {
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Store   string               `json:"store"`
	Cache   string               `json:"cache"`
	Counts  map[string]int64     `json:"counts,omitempty"`
	Queue   *tasks.QueueSnapshot `json:"queue,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error"
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Checks: checks})
		return
	}
	checks["store"] = "ok"

	// The cache fails open everywhere, so a cache outage degrades the
	// response body, not the status code.
	switch {
	case s.cache == nil:
		checks["cache"] = "disabled"
	case s.cache.Ping(r.Context()) != nil:
		checks["cache"] = "error"
	default:
		checks["cache"] = "ok"
	}

	respondJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: checks})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: s.version,
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Store:   "ok",
		Cache:   "ok",
	}
	if err := s.store.Ping(r.Context()); err != nil {
		resp.Store = "error"
	} else if counts, err := s.store.Counts(r.Context()); err == nil {
		resp.Counts = counts
	}
	switch {
	case s.cache == nil:
		resp.Cache = "disabled"
	case s.cache.Ping(r.Context()) != nil:
		resp.Cache = "error"
	}
	if s.queue != nil {
		snap, err := s.queue.Queues()
		if err != nil {
			logger.Debug("queue depth unavailable", "error", err.Error())
		} else {
			resp.Queue = snap
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrendingSignals(w http.ResponseWriter, r *http.Request) {
	q := s.signals.DefaultQuery()
	q.Limit = queryLimit(r, q.Limit)
	q.MinScore = queryFloat(r, "min_score", 0)
	if et := r.URL.Query().Get("entity_type"); et != "" {
		q.EntityType = core.EntityType(et)
	}
	if tf := r.URL.Query().Get("timeframe"); tf != "" {
		q.Timeframe = tf
	}

	sigs, err := s.signals.Trending(r.Context(), q)
	if err != nil {
		logger.Error("trending signals failed", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute signals")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"signals": emptyIfNil(sigs),
		"count":   len(sigs),
	})
}

func (s *Server) handleActiveNarratives(w http.ResponseWriter, r *http.Request) {
	s.listNarratives(w, r, s.store.ActiveNarratives)
}

func (s *Server) handleArchivedNarratives(w http.ResponseWriter, r *http.Request) {
	s.listNarratives(w, r, s.store.ArchivedNarratives)
}

func (s *Server) handleResurrections(w http.ResponseWriter, r *http.Request) {
	s.listNarratives(w, r, s.store.Resurrections)
}

func (s *Server) listNarratives(w http.ResponseWriter, r *http.Request, query func(ctx context.Context, limit int) ([]core.Narrative, error)) {
	limit := queryLimit(r, defaultLimit)
	narratives, err := query(r.Context(), limit)
	if err != nil {
		logger.Error("narrative list failed", err)
		respondError(w, http.StatusInternalServerError, "Failed to load narratives")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"narratives": emptyIfNil(narratives),
		"count":      len(narratives),
	})
}

func (s *Server) handleGetNarrative(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.store.GetNarrative(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Narrative not found")
		return
	}
	if err != nil {
		logger.Error("narrative read failed", err, "id", id)
		respondError(w, http.StatusInternalServerError, "Failed to load narrative")
		return
	}

	// Article IDs are appended in arrival order, so the tail is the
	// freshest slice of the story.
	ids := n.ArticleIDs
	if len(ids) > embeddedArticleCap {
		ids = ids[len(ids)-embeddedArticleCap:]
	}
	articles, err := s.store.ArticlesByIDs(r.Context(), ids)
	if err != nil {
		logger.Warn("embedded articles unavailable", "id", id, "error", err.Error())
		articles = nil
	}
	sort.Slice(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"narrative":       n,
		"recent_articles": emptyIfNil(articles),
	})
}

func (s *Server) handleNarrativeArticles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetNarrative(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Narrative not found")
			return
		}
		logger.Error("narrative read failed", err, "id", id)
		respondError(w, http.StatusInternalServerError, "Failed to load narrative")
		return
	}

	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	limit := queryLimit(r, defaultLimit)

	articles, err := s.store.ArticlesByNarrative(r.Context(), id, offset, limit)
	if err != nil {
		logger.Error("narrative articles failed", err, "id", id)
		respondError(w, http.StatusInternalServerError, "Failed to load articles")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"narrative_id": id,
		"articles":     emptyIfNil(articles),
		"count":        len(articles),
		"offset":       offset,
		"limit":        limit,
	})
}

// placeholderBriefing is what the briefing endpoints serve when nothing has
// been published yet. Clients key on the id, never on the status code.
func placeholderBriefing(bt core.BriefingType) *core.Briefing {
	return &core.Briefing{ID: "placeholder", Type: bt}
}

func (s *Server) handleLatestBriefing(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.LatestBriefing(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusOK, placeholderBriefing(""))
		return
	}
	if err != nil {
		logger.Error("latest briefing read failed", err)
		respondError(w, http.StatusInternalServerError, "Failed to load briefing")
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleBriefingByType(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "type")
	if !core.ValidBriefingType(raw) {
		respondError(w, http.StatusBadRequest, "Unknown briefing type")
		return
	}
	bt := core.BriefingType(raw)

	var (
		b   *core.Briefing
		err error
	)
	if rawDate := r.URL.Query().Get("date"); rawDate != "" {
		day, perr := time.ParseInLocation("2006-01-02", rawDate, s.location)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "Date must be YYYY-MM-DD")
			return
		}
		next := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, s.location)
		b, err = s.store.BriefingByTypeAndWindow(r.Context(), bt, day, next)
	} else {
		b, err = s.store.LatestBriefingByType(r.Context(), bt)
	}

	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusOK, placeholderBriefing(bt))
		return
	}
	if err != nil {
		logger.Error("briefing read failed", err, "type", bt)
		respondError(w, http.StatusInternalServerError, "Failed to load briefing")
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleRecentArticles(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultLimit)
	articles, err := s.store.RecentArticles(r.Context(), limit)
	if err != nil {
		logger.Error("recent articles failed", err)
		respondError(w, http.StatusInternalServerError, "Failed to load articles")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"articles": emptyIfNil(articles),
		"count":    len(articles),
	})
}

// emptyIfNil keeps empty lists as [] in JSON instead of null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
