package narrative

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/store"
)

// Store is the slice of the document store the lifecycle engine needs.
type Store interface {
	CandidateSource
	GetNarrative(ctx context.Context, id string) (*core.Narrative, error)
	InsertNarrative(ctx context.Context, n *core.Narrative) error
	ReplaceNarrative(ctx context.Context, n *core.Narrative, expectedLastUpdated time.Time) error
	SetArticleNarrative(ctx context.Context, articleID, narrativeID string) error
	CountNarrativeArticlesSince(ctx context.Context, narrativeID string, since time.Time) (int, error)
	UnassignedArticles(ctx context.Context, since time.Time, limit int) ([]core.Article, error)
	NarrativesForSweep(ctx context.Context) ([]core.Narrative, error)
}

// Service drives all narrative mutations. All writes are single-document;
// concurrent extends are resolved by optimistic concurrency on last_updated
// with a re-match on conflict.
type Service struct {
	store   Store
	matcher *Matcher
	now     func() time.Time
}

// NewService wires the lifecycle engine and its matcher onto one store.
func NewService(st Store, cfg config.Matcher) *Service {
	return &Service{
		store:   st,
		matcher: NewMatcher(st, cfg),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Matcher exposes the service's matcher for read-only match previews.
func (s *Service) Matcher() *Matcher {
	return s.matcher
}

// Outcome reports what ProcessArticle did with one article.
type Outcome struct {
	Action      DecisionKind
	NarrativeID string
	Similarity  float64
}

// ProcessArticle matches one enriched article and applies the decision.
// Rule-extracted articles and articles already attached to a narrative are
// skipped; both make the call idempotent under task retries.
func (s *Service) ProcessArticle(ctx context.Context, a core.Article) (*Outcome, error) {
	if a.ExtractionMethod != core.ExtractionLLM || a.NucleusEntity == "" {
		return &Outcome{Action: DecideSkip}, nil
	}
	if a.NarrativeID != "" {
		return &Outcome{Action: DecideSkip, NarrativeID: a.NarrativeID}, nil
	}

	fp := fingerprintFromArticle(a)
	for attempt := 1; attempt <= 3; attempt++ {
		decision, err := s.matcher.Match(ctx, fp)
		if err != nil {
			return nil, err
		}

		var n *core.Narrative
		switch decision.Kind {
		case DecideExtend:
			n, err = s.extend(ctx, decision.Narrative, a, false)
		case DecideReactivate:
			logger.Info("reactivating dormant narrative",
				"narrative_id", decision.Narrative.ID,
				"similarity", decision.Similarity,
				"dormant_days", decision.DormantDays)
			n, err = s.extend(ctx, decision.Narrative, a, true)
		default:
			n, err = s.create(ctx, a)
		}
		if errors.Is(err, store.ErrConflict) {
			logger.Debug("narrative update conflicted, re-matching",
				"article_id", a.ID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := s.store.SetArticleNarrative(ctx, a.ID, n.ID); err != nil {
			return nil, fmt.Errorf("failed to link article %s to narrative %s: %w", a.ID, n.ID, err)
		}
		return &Outcome{Action: decision.Kind, NarrativeID: n.ID, Similarity: decision.Similarity}, nil
	}
	return nil, fmt.Errorf("failed to process article %s after repeated conflicts: %w", a.ID, store.ErrConflict)
}

// BatchStats aggregates one detection pass.
type BatchStats struct {
	Processed   int
	Extended    int
	Created     int
	Reactivated int
	Skipped     int
	Failed      int
}

// ProcessUnassigned runs the periodic detection pass over enriched articles
// that have no narrative yet. Per-article failures are logged and counted,
// never fatal for the batch.
func (s *Service) ProcessUnassigned(ctx context.Context, since time.Time, limit int) (*BatchStats, error) {
	articles, err := s.store.UnassignedArticles(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load unassigned articles: %w", err)
	}

	stats := &BatchStats{}
	for _, a := range articles {
		outcome, err := s.ProcessArticle(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			logger.Warn("failed to process article", "article_id", a.ID, "error", err.Error())
			stats.Failed++
			continue
		}
		stats.Processed++
		switch outcome.Action {
		case DecideExtend:
			stats.Extended++
		case DecideReactivate:
			stats.Reactivated++
		case DecideCreate:
			stats.Created++
		default:
			stats.Skipped++
		}
	}
	return stats, nil
}

// extend applies the extend (or reactivate) semantics to a copy of the
// narrative and persists it conditionally on the version it was loaded at.
func (s *Service) extend(ctx context.Context, base *core.Narrative, a core.Article, reactivate bool) (*core.Narrative, error) {
	n := *base
	expected := n.LastUpdated
	now := s.now()

	if n.HasArticle(a.ID) {
		return &n, nil
	}

	oldCount := n.ArticleCount
	n.ArticleIDs = append(append([]string(nil), n.ArticleIDs...), a.ID)
	n.ArticleCount = len(n.ArticleIDs)

	// Article-count-weighted mean keeps the average stable as the narrative grows.
	n.AvgSentiment = (n.AvgSentiment*float64(oldCount) + a.SentimentScore) / float64(n.ArticleCount)

	n.Entities = mergeStrings(n.Entities, entityNames(a.Entities), 0)
	oldActors := n.TopActors
	n.TopActors = mergeActors(n.TopActors, a.TopActors)
	n.KeyActions = mergeStrings(n.KeyActions, a.KeyActions, 3)
	if n.NarrativeFocus == "" && a.NarrativeFocus != "" {
		n.NarrativeFocus = a.NarrativeFocus
	}

	if a.PublishedAt.After(n.LastArticleAt) {
		n.LastArticleAt = a.PublishedAt
	}
	n.LastUpdated = now

	count24, err := s.store.CountNarrativeArticlesSince(ctx, n.ID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent articles for %s: %w", n.ID, err)
	}
	count7d, err := s.store.CountNarrativeArticlesSince(ctx, n.ID, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count weekly articles for %s: %w", n.ID, err)
	}
	// The incoming article is not linked yet, so the counts miss it.
	if now.Sub(a.PublishedAt) < 24*time.Hour {
		count24++
	}
	if now.Sub(a.PublishedAt) < 7*24*time.Hour {
		count7d++
	}

	oldVelocity := n.Velocity
	n.Velocity = UpdateVelocity(oldVelocity, float64(count24))

	if reactivate {
		applyTransition(&n, core.StateReactivated, now)
	} else {
		next := Transition(n.LifecycleState, Conditions{
			Articles24h:    count24,
			Articles7d:     count7d,
			VelocityRising: n.Velocity > oldVelocity,
			SinceLast:      now.Sub(n.LastArticleAt),
		})
		applyTransition(&n, next, now)
	}

	if !equalStringSlices(oldActors, n.TopActors) || n.Fingerprint.Hash == "" {
		n.Fingerprint = core.NarrativeFingerprint{
			NucleusEntity:  n.NucleusEntity,
			NarrativeFocus: n.NarrativeFocus,
			TopActors:      n.TopActors,
			KeyActions:     n.KeyActions,
			Timestamp:      now,
			Hash:           core.ComputeFingerprintHash(n.NucleusEntity, n.TopActors),
		}
	}

	n.TimelineData = coalesceTimeline(n.TimelineData, core.DayKey(a.PublishedAt, time.UTC), 1, n.Velocity)

	if err := s.store.ReplaceNarrative(ctx, &n, expected); err != nil {
		return nil, err
	}
	return &n, nil
}

// create seeds a new emerging narrative from one article.
func (s *Service) create(ctx context.Context, a core.Article) (*core.Narrative, error) {
	now := s.now()
	fp := fingerprintFromArticle(a)
	fp.Timestamp = now
	fp.Hash = core.ComputeFingerprintHash(fp.NucleusEntity, fp.TopActors)

	// Ingested articles usually carry a published_at in the past; first_seen
	// must never trail last_article_at.
	firstSeen := now
	if a.PublishedAt.Before(firstSeen) {
		firstSeen = a.PublishedAt
	}

	n := &core.Narrative{
		ID:             uuid.NewString(),
		Title:          narrativeTitle(a),
		NucleusEntity:  a.NucleusEntity,
		NarrativeFocus: a.NarrativeFocus,
		TopActors:      a.TopActors,
		KeyActions:     a.KeyActions,
		Entities:       entityNames(a.Entities),
		ArticleIDs:     []string{a.ID},
		ArticleCount:   1,
		FirstSeen:      firstSeen,
		LastUpdated:    now,
		LastArticleAt:  a.PublishedAt,
		LifecycleState: core.StateEmerging,
		LifecycleHistory: []core.LifecycleEntry{
			{State: core.StateEmerging, EnteredAt: now, ArticleCountAtEntry: 1},
		},
		Fingerprint:  fp,
		AvgSentiment: a.SentimentScore,
		Velocity:     1,
		TimelineData: []core.TimelinePoint{
			{Date: core.DayKey(a.PublishedAt, time.UTC), ArticleCount: 1, Velocity: 1},
		},
	}
	if err := s.store.InsertNarrative(ctx, n); err != nil {
		return nil, err
	}
	logger.Info("created narrative", "narrative_id", n.ID, "nucleus", n.NucleusEntity, "focus", n.NarrativeFocus)
	return n, nil
}

// Sweep re-evaluates every non-dormant narrative against the state machine
// so quiet narratives cool and eventually go dormant even when no article
// ever arrives to trigger an extend. Velocity decays here too.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	narratives, err := s.store.NarrativesForSweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load narratives for sweep: %w", err)
	}

	now := s.now()
	changed := 0
	for i := range narratives {
		n := narratives[i]
		expected := n.LastUpdated

		count24, err := s.store.CountNarrativeArticlesSince(ctx, n.ID, now.Add(-24*time.Hour))
		if err != nil {
			return changed, fmt.Errorf("failed to count recent articles for %s: %w", n.ID, err)
		}
		count7d, err := s.store.CountNarrativeArticlesSince(ctx, n.ID, now.Add(-7*24*time.Hour))
		if err != nil {
			return changed, fmt.Errorf("failed to count weekly articles for %s: %w", n.ID, err)
		}

		oldVelocity := n.Velocity
		n.Velocity = UpdateVelocity(oldVelocity, float64(count24))

		next := Transition(n.LifecycleState, Conditions{
			Articles24h:    count24,
			Articles7d:     count7d,
			VelocityRising: n.Velocity > oldVelocity,
			SinceLast:      now.Sub(n.LastArticleAt),
		})

		stateChanged := next != n.LifecycleState
		velocityMoved := abs(n.Velocity-oldVelocity) > 0.001
		if !stateChanged && !velocityMoved {
			continue
		}

		n.LastUpdated = now
		applyTransition(&n, next, now)

		if err := s.store.ReplaceNarrative(ctx, &n, expected); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// An extend raced the sweep; the next sweep will see the fresh document.
				logger.Debug("sweep skipped concurrently updated narrative", "narrative_id", n.ID)
				continue
			}
			return changed, err
		}
		if stateChanged {
			logger.Info("narrative state changed",
				"narrative_id", n.ID,
				"from", string(narratives[i].LifecycleState),
				"to", string(next),
				"velocity", n.Velocity)
			changed++
		}
	}
	return changed, nil
}

func fingerprintFromArticle(a core.Article) core.NarrativeFingerprint {
	return core.NarrativeFingerprint{
		NucleusEntity:  a.NucleusEntity,
		NarrativeFocus: a.NarrativeFocus,
		TopActors:      a.TopActors,
		KeyActions:     a.KeyActions,
	}
}

func narrativeTitle(a core.Article) string {
	if a.NarrativeFocus != "" {
		return fmt.Sprintf("%s: %s", a.NucleusEntity, a.NarrativeFocus)
	}
	return a.Title
}

func entityNames(entities []core.Entity) []string {
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	return names
}

// mergeActors recomputes top actors across the lists by appearance frequency,
// breaking ties by best salience position, then by first appearance. Keeps 5.
func mergeActors(lists ...[]string) []string {
	type actorRank struct {
		name     string
		count    int
		bestPos  int
		firstIdx int
	}
	ranks := map[string]*actorRank{}
	order := []*actorRank{}
	idx := 0
	for _, list := range lists {
		for pos, raw := range list {
			name := strings.TrimSpace(raw)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			r, ok := ranks[key]
			if !ok {
				r = &actorRank{name: name, bestPos: pos, firstIdx: idx}
				ranks[key] = r
				order = append(order, r)
			}
			r.count++
			if pos < r.bestPos {
				r.bestPos = pos
			}
			idx++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		if order[i].bestPos != order[j].bestPos {
			return order[i].bestPos < order[j].bestPos
		}
		return order[i].firstIdx < order[j].firstIdx
	})

	out := make([]string, 0, 5)
	for _, r := range order {
		out = append(out, r.name)
		if len(out) == 5 {
			break
		}
	}
	return out
}

// mergeStrings unions two lists case-insensitively, keeping first-seen order
// and casing. A limit of 0 means unbounded.
func mergeStrings(existing, incoming []string, limit int) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		k := strings.ToLower(s)
		if seen[k] {
			return
		}
		if limit > 0 && len(out) >= limit {
			return
		}
		seen[k] = true
		out = append(out, s)
	}
	for _, s := range existing {
		add(s)
	}
	for _, s := range incoming {
		add(s)
	}
	return out
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// coalesceTimeline adds articles to the day bucket, appending a new point
// when the day is unseen. Points stay sorted by date.
func coalesceTimeline(points []core.TimelinePoint, day string, count int, velocity float64) []core.TimelinePoint {
	for i := range points {
		if points[i].Date == day {
			points[i].ArticleCount += count
			points[i].Velocity = velocity
			return points
		}
	}
	points = append(points, core.TimelinePoint{Date: day, ArticleCount: count, Velocity: velocity})
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
