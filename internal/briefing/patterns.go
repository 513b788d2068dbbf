package briefing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"cryptopulse/internal/core"
	"cryptopulse/internal/logger"
)

const (
	// resurrectionWindow bounds how far back a comeback still counts as news.
	resurrectionWindow = 7 * 24 * time.Hour

	// crossNarrativeMin is how many live narratives an entity must span
	// before the overlap itself is an observation. Two is routine in
	// crypto; three means the entity is the story.
	crossNarrativeMin = 3

	// divergenceGap is the minimum avg_sentiment spread between two
	// narratives on the same nucleus to call it a divergence.
	divergenceGap = 0.8
)

// PatternStore is the slice of the store pattern detection reads and writes.
type PatternStore interface {
	ActiveNarratives(ctx context.Context, limit int) ([]core.Narrative, error)
	Resurrections(ctx context.Context, limit int) ([]core.Narrative, error)
	InsertPattern(ctx context.Context, p *core.BriefingPattern) error
	RecentPatterns(ctx context.Context, since time.Time, limit int) ([]core.BriefingPattern, error)
}

// PatternDetector finds cross-narrative observations worth telling the
// briefing model about: stories coming back from the dead, entities moving
// through several live stories at once, and the same nucleus carrying
// opposite sentiment in different narratives.
type PatternDetector struct {
	store PatternStore
	now   func() time.Time
}

// NewPatternDetector builds a detector over the given store.
func NewPatternDetector(st PatternStore) *PatternDetector {
	return &PatternDetector{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Detect runs all pattern checks and persists the novel ones. The returned
// list contains everything detected this pass, persisted or not, so the
// caller can feed it straight into composition. Persistence failures are
// logged and skipped; patterns are observations, not state.
func (d *PatternDetector) Detect(ctx context.Context) ([]core.BriefingPattern, error) {
	now := d.now()

	narratives, err := d.store.ActiveNarratives(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to load narratives for pattern detection: %w", err)
	}

	var found []core.BriefingPattern
	found = append(found, d.resurrections(ctx, now)...)
	found = append(found, crossNarrativeEntities(narratives, now)...)
	found = append(found, sentimentDivergences(narratives, now)...)

	seen := d.recentSignatures(ctx, now)
	for i := range found {
		if seen[patternSignature(&found[i])] {
			continue
		}
		if err := d.store.InsertPattern(ctx, &found[i]); err != nil {
			logger.Warn("failed to persist pattern", "type", string(found[i].Type), "error", err.Error())
		}
	}
	return found, nil
}

// resurrections emits one pattern per narrative that returned from dormancy
// inside the window.
func (d *PatternDetector) resurrections(ctx context.Context, now time.Time) []core.BriefingPattern {
	narratives, err := d.store.Resurrections(ctx, 20)
	if err != nil {
		logger.Warn("failed to load resurrections", "error", err.Error())
		return nil
	}

	var out []core.BriefingPattern
	for _, n := range narratives {
		at, ok := lastReactivation(&n)
		if !ok || now.Sub(at) > resurrectionWindow {
			continue
		}
		strength := 0.5 + 0.25*float64(n.ReactivatedCount)
		if strength > 1 {
			strength = 1
		}
		out = append(out, core.BriefingPattern{
			ID:   uuid.NewString(),
			Type: core.PatternResurrection,
			Description: fmt.Sprintf("%q is back after going quiet; reactivated %s",
				n.Title, countNoun(n.ReactivatedCount, "time", "times")),
			Entities:     []string{n.NucleusEntity},
			NarrativeIDs: []string{n.ID},
			Strength:     strength,
			DetectedAt:   now,
		})
	}
	return out
}

// lastReactivation finds the most recent transition into the reactivated
// state.
func lastReactivation(n *core.Narrative) (time.Time, bool) {
	var at time.Time
	found := false
	for _, e := range n.LifecycleHistory {
		if e.State == core.StateReactivated && e.EnteredAt.After(at) {
			at = e.EnteredAt
			found = true
		}
	}
	return at, found
}

// crossNarrativeEntities finds entities threaded through several live
// narratives at once.
func crossNarrativeEntities(narratives []core.Narrative, now time.Time) []core.BriefingPattern {
	byEntity := map[string][]string{}
	display := map[string]string{}
	for _, n := range narratives {
		for _, e := range n.Entities {
			key := strings.ToLower(e)
			byEntity[key] = append(byEntity[key], n.ID)
			if _, ok := display[key]; !ok {
				display[key] = e
			}
		}
	}

	entities := make([]string, 0, len(byEntity))
	for key, ids := range byEntity {
		if len(ids) >= crossNarrativeMin {
			entities = append(entities, key)
		}
	}
	sort.Strings(entities)

	var out []core.BriefingPattern
	for _, key := range entities {
		ids := byEntity[key]
		strength := float64(len(ids)) / 5
		if strength > 1 {
			strength = 1
		}
		out = append(out, core.BriefingPattern{
			ID:   uuid.NewString(),
			Type: core.PatternCrossNarrative,
			Description: fmt.Sprintf("%s is running through %d separate narratives at once",
				display[key], len(ids)),
			Entities:     []string{display[key]},
			NarrativeIDs: ids,
			Strength:     strength,
			DetectedAt:   now,
		})
	}
	return out
}

// sentimentDivergences finds pairs of narratives on the same nucleus whose
// average sentiment points in opposite directions.
func sentimentDivergences(narratives []core.Narrative, now time.Time) []core.BriefingPattern {
	byNucleus := map[string][]*core.Narrative{}
	for i := range narratives {
		key := strings.ToLower(narratives[i].NucleusEntity)
		byNucleus[key] = append(byNucleus[key], &narratives[i])
	}

	keys := make([]string, 0, len(byNucleus))
	for k, group := range byNucleus {
		if len(group) >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []core.BriefingPattern
	for _, key := range keys {
		group := byNucleus[key]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				gap := a.AvgSentiment - b.AvgSentiment
				if gap < 0 {
					gap = -gap
				}
				if gap < divergenceGap || a.AvgSentiment*b.AvgSentiment > 0 {
					continue
				}
				strength := gap / 2
				if strength > 1 {
					strength = 1
				}
				out = append(out, core.BriefingPattern{
					ID:   uuid.NewString(),
					Type: core.PatternSentimentDivergence,
					Description: fmt.Sprintf("Coverage of %s is split: %q reads %+.2f while %q reads %+.2f",
						a.NucleusEntity, a.Title, a.AvgSentiment, b.Title, b.AvgSentiment),
					Entities:     []string{a.NucleusEntity},
					NarrativeIDs: []string{a.ID, b.ID},
					Strength:     strength,
					DetectedAt:   now,
				})
			}
		}
	}
	return out
}

// recentSignatures loads signatures of patterns already recorded in the last
// day so every briefing run does not re-insert the same observation.
func (d *PatternDetector) recentSignatures(ctx context.Context, now time.Time) map[string]bool {
	recent, err := d.store.RecentPatterns(ctx, now.Add(-24*time.Hour), 200)
	if err != nil {
		logger.Warn("failed to load recent patterns", "error", err.Error())
		return nil
	}
	seen := make(map[string]bool, len(recent))
	for i := range recent {
		seen[patternSignature(&recent[i])] = true
	}
	return seen
}

// patternSignature identifies a pattern by what it observes, not when.
func patternSignature(p *core.BriefingPattern) string {
	ids := append([]string(nil), p.NarrativeIDs...)
	sort.Strings(ids)
	return string(p.Type) + "|" + strings.ToLower(strings.Join(p.Entities, ",")) + "|" + strings.Join(ids, ",")
}

func countNoun(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
