package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/logger"
)

// ConsolidationStore is the slice of the store the consolidator needs.
type ConsolidationStore interface {
	NarrativesForConsolidation(ctx context.Context) ([]core.Narrative, error)
	ReplaceNarrative(ctx context.Context, n *core.Narrative, expectedLastUpdated time.Time) error
	ReassignArticles(ctx context.Context, fromNarrative, toNarrative string) (int64, error)
	ArchiveMerged(ctx context.Context, loserID, winnerID string) error
}

// Consolidator merges near-duplicate active narratives that share a nucleus
// entity. Runs are idempotent: a merge interrupted midway leaves the loser
// unarchived, so the next pass detects and finishes it.
type Consolidator struct {
	store     ConsolidationStore
	threshold float64
	maxMerges int
	now       func() time.Time
}

// NewConsolidator builds a consolidator from matcher config.
func NewConsolidator(st ConsolidationStore, cfg config.Matcher) *Consolidator {
	c := &Consolidator{
		store:     st,
		threshold: cfg.ConsolidateThreshold,
		maxMerges: cfg.MaxMergesPerPass,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if c.threshold <= 0 {
		c.threshold = 0.85
	}
	if c.maxMerges <= 0 {
		c.maxMerges = 20
	}
	return c
}

// MergeDecision records one pair the pass decided to merge.
type MergeDecision struct {
	WinnerID   string  `json:"winner_id"`
	LoserID    string  `json:"loser_id"`
	Nucleus    string  `json:"nucleus"`
	Similarity float64 `json:"similarity"`
	Applied    bool    `json:"applied"`
}

// Report summarizes one consolidation pass.
type Report struct {
	Narratives int             `json:"narratives"`
	Groups     int             `json:"groups"`
	Candidates int             `json:"candidates"`
	Merged     int             `json:"merged"`
	Decisions  []MergeDecision `json:"decisions"`
}

// Run executes one consolidation pass. With dryRun the decisions are
// reported but nothing is written.
func (c *Consolidator) Run(ctx context.Context, dryRun bool) (*Report, error) {
	narratives, err := c.store.NarrativesForConsolidation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load narratives for consolidation: %w", err)
	}

	groups := map[string][]*core.Narrative{}
	for i := range narratives {
		n := &narratives[i]
		key := strings.ToLower(n.NucleusEntity)
		groups[key] = append(groups[key], n)
	}

	report := &Report{Narratives: len(narratives)}

	type pair struct {
		a, b *core.Narrative
		sim  float64
	}
	var pairs []pair
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		report.Groups++
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				sim := Similarity(candidateFingerprint(group[i]), candidateFingerprint(group[j]))
				if sim >= c.threshold {
					pairs = append(pairs, pair{a: group[i], b: group[j], sim: sim})
				}
			}
		}
	}
	report.Candidates = len(pairs)

	// Strongest matches merge first; IDs break ties so the order is stable
	// across runs.
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].sim != pairs[j].sim {
			return pairs[i].sim > pairs[j].sim
		}
		if pairs[i].a.ID != pairs[j].a.ID {
			return pairs[i].a.ID < pairs[j].a.ID
		}
		return pairs[i].b.ID < pairs[j].b.ID
	})

	consumed := map[string]bool{}
	for _, p := range pairs {
		if report.Merged >= c.maxMerges {
			logger.Warn("consolidation merge cap reached, deferring remainder",
				"cap", c.maxMerges, "remaining", report.Candidates-report.Merged)
			break
		}
		if consumed[p.a.ID] || consumed[p.b.ID] {
			continue
		}
		winner, loser := pickSurvivor(p.a, p.b)
		decision := MergeDecision{
			WinnerID:   winner.ID,
			LoserID:    loser.ID,
			Nucleus:    winner.NucleusEntity,
			Similarity: p.sim,
		}
		logger.Info("consolidation decision",
			"winner", winner.ID, "loser", loser.ID,
			"nucleus", winner.NucleusEntity,
			"similarity", p.sim, "dry_run", dryRun)

		if !dryRun {
			if err := c.merge(ctx, winner, loser); err != nil {
				logger.Error("failed to merge narratives", err, "winner", winner.ID, "loser", loser.ID)
				report.Decisions = append(report.Decisions, decision)
				continue
			}
			decision.Applied = true
		}
		consumed[p.a.ID] = true
		consumed[p.b.ID] = true
		report.Merged++
		report.Decisions = append(report.Decisions, decision)
	}
	return report, nil
}

// pickSurvivor keeps the larger narrative; on equal article counts the older
// first_seen survives, with the ID as the final deterministic tie-break.
func pickSurvivor(a, b *core.Narrative) (winner, loser *core.Narrative) {
	if a.ArticleCount != b.ArticleCount {
		if a.ArticleCount > b.ArticleCount {
			return a, b
		}
		return b, a
	}
	if !a.FirstSeen.Equal(b.FirstSeen) {
		if a.FirstSeen.Before(b.FirstSeen) {
			return a, b
		}
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}

// merge folds the loser into the winner with extend semantics, reassigns the
// loser's articles, and archives the loser last so an interrupted merge is
// retried by the next pass.
func (c *Consolidator) merge(ctx context.Context, winner, loser *core.Narrative) error {
	n := *winner
	expected := n.LastUpdated
	now := c.now()

	oldCount := n.ArticleCount
	ids := append([]string(nil), n.ArticleIDs...)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	added := 0
	for _, id := range loser.ArticleIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		added++
	}
	n.ArticleIDs = ids
	n.ArticleCount = len(ids)

	if added > 0 {
		n.AvgSentiment = (n.AvgSentiment*float64(oldCount) + loser.AvgSentiment*float64(added)) / float64(oldCount+added)
	}

	n.Entities = mergeStrings(n.Entities, loser.Entities, 0)
	oldActors := n.TopActors
	n.TopActors = mergeActors(n.TopActors, loser.TopActors)
	n.KeyActions = mergeStrings(n.KeyActions, loser.KeyActions, 3)
	if n.NarrativeFocus == "" {
		n.NarrativeFocus = loser.NarrativeFocus
	}

	if loser.LastArticleAt.After(n.LastArticleAt) {
		n.LastArticleAt = loser.LastArticleAt
	}
	if loser.FirstSeen.Before(n.FirstSeen) {
		n.FirstSeen = loser.FirstSeen
	}
	if loser.Velocity > n.Velocity {
		n.Velocity = loser.Velocity
	}
	n.LastUpdated = now

	for _, p := range loser.TimelineData {
		n.TimelineData = coalesceTimeline(n.TimelineData, p.Date, p.ArticleCount, n.Velocity)
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

	if err := c.store.ReplaceNarrative(ctx, &n, expected); err != nil {
		return fmt.Errorf("failed to persist merged narrative %s: %w", n.ID, err)
	}
	moved, err := c.store.ReassignArticles(ctx, loser.ID, n.ID)
	if err != nil {
		return fmt.Errorf("failed to reassign articles from %s: %w", loser.ID, err)
	}
	if err := c.store.ArchiveMerged(ctx, loser.ID, n.ID); err != nil {
		return fmt.Errorf("failed to archive %s: %w", loser.ID, err)
	}
	logger.Info("merged narratives",
		"winner", n.ID, "loser", loser.ID,
		"articles_added", added, "articles_moved", moved,
		"article_count", n.ArticleCount)
	return nil
}
