// Package narrative owns the lifecycle of narratives: matching freshly
// enriched articles onto them, mutating them through extend, create and
// reactivate, downgrading them through the periodic sweep, and merging
// duplicates in the consolidation pass.
package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
)

// DecisionKind names what the matcher (or the service acting on it) decided
// to do with an article.
type DecisionKind string

const (
	DecideExtend     DecisionKind = "extend"
	DecideReactivate DecisionKind = "reactivate"
	DecideCreate     DecisionKind = "create"
	DecideSkip       DecisionKind = "skip"
)

// Decision is the matcher's verdict for one article fingerprint.
type Decision struct {
	Kind        DecisionKind
	Narrative   *core.Narrative // nil for create
	Similarity  float64
	DormantDays int // set on reactivate
}

// CandidateSource is the slice of the store the matcher needs.
type CandidateSource interface {
	CandidatesByNucleus(ctx context.Context, nucleus string, since time.Time) ([]core.Narrative, error)
}

// Matcher decides whether an article extends an existing narrative,
// reactivates a dormant one, or seeds a new one.
type Matcher struct {
	source              CandidateSource
	extendThreshold     float64
	reactivateThreshold float64
	reactivationWindow  time.Duration
	candidateWindow     time.Duration
}

// NewMatcher builds a matcher with thresholds from config, falling back to
// the standard cutoffs where unset.
func NewMatcher(source CandidateSource, cfg config.Matcher) *Matcher {
	m := &Matcher{
		source:              source,
		extendThreshold:     cfg.ExtendThreshold,
		reactivateThreshold: cfg.ReactivateThreshold,
		reactivationWindow:  time.Duration(cfg.ReactivationWindowDays) * 24 * time.Hour,
		candidateWindow:     time.Duration(cfg.CandidateWindowDays) * 24 * time.Hour,
	}
	if m.extendThreshold <= 0 {
		m.extendThreshold = 0.60
	}
	if m.reactivateThreshold <= 0 {
		m.reactivateThreshold = 0.80
	}
	if m.reactivationWindow <= 0 {
		m.reactivationWindow = 30 * 24 * time.Hour
	}
	if m.candidateWindow <= 0 {
		m.candidateWindow = 90 * 24 * time.Hour
	}
	return m
}

// Match retrieves candidates sharing the fingerprint's nucleus entity and
// scores them. Only persistence errors fail; a thin fingerprint just scores
// low and falls through to create.
func (m *Matcher) Match(ctx context.Context, fp core.NarrativeFingerprint) (*Decision, error) {
	if fp.NucleusEntity == "" {
		return &Decision{Kind: DecideCreate}, nil
	}
	now := time.Now().UTC()
	candidates, err := m.source.CandidatesByNucleus(ctx, fp.NucleusEntity, now.Add(-m.candidateWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates for %q: %w", fp.NucleusEntity, err)
	}
	return m.decide(fp, candidates, now), nil
}

type scoredCandidate struct {
	narrative *core.Narrative
	sim       float64
}

// decide is the pure half of Match. Candidates arrive sorted by
// last_article_at descending, so a strictly-greater comparison makes the
// most recently active narrative win ties.
func (m *Matcher) decide(fp core.NarrativeFingerprint, candidates []core.Narrative, now time.Time) *Decision {
	var bestActive, bestDormant *scoredCandidate
	for i := range candidates {
		n := &candidates[i]
		sim := Similarity(fp, candidateFingerprint(n))
		if sim == 0 {
			continue
		}
		if n.LifecycleState == core.StateDormant {
			if n.DormantSince == nil {
				continue
			}
			if n.DormantSince.UTC().Before(now.Add(-m.reactivationWindow)) {
				continue
			}
			if sim >= m.reactivateThreshold && (bestDormant == nil || sim > bestDormant.sim) {
				bestDormant = &scoredCandidate{narrative: n, sim: sim}
			}
			continue
		}
		if sim >= m.extendThreshold && (bestActive == nil || sim > bestActive.sim) {
			bestActive = &scoredCandidate{narrative: n, sim: sim}
		}
	}

	if bestActive != nil {
		return &Decision{Kind: DecideExtend, Narrative: bestActive.narrative, Similarity: bestActive.sim}
	}
	if bestDormant != nil {
		days := int(now.Sub(bestDormant.narrative.DormantSince.UTC()).Hours() / 24)
		return &Decision{
			Kind:        DecideReactivate,
			Narrative:   bestDormant.narrative,
			Similarity:  bestDormant.sim,
			DormantDays: days,
		}
	}
	return &Decision{Kind: DecideCreate}
}

// candidateFingerprint fills fingerprint fields from the narrative document
// where the stored fingerprint predates a field (pre-backfill documents).
func candidateFingerprint(n *core.Narrative) core.NarrativeFingerprint {
	fp := n.Fingerprint
	if fp.NucleusEntity == "" {
		fp.NucleusEntity = n.NucleusEntity
	}
	if fp.NarrativeFocus == "" {
		fp.NarrativeFocus = n.NarrativeFocus
	}
	if len(fp.TopActors) == 0 {
		fp.TopActors = n.TopActors
	}
	if len(fp.KeyActions) == 0 {
		fp.KeyActions = n.KeyActions
	}
	return fp
}

// Similarity scores two narrative fingerprints in [0,1]:
//
//	0.5·focus + 0.3·nucleus + 0.1·actors + 0.1·actions
//
// The hard gate returns 0 outright unless the two agree on focus
// (case-insensitively) or on nucleus entity; weak signals alone must not
// produce a match.
func Similarity(a, b core.NarrativeFingerprint) float64 {
	nucleusEqual := a.NucleusEntity != "" && strings.EqualFold(a.NucleusEntity, b.NucleusEntity)
	focusA := normalizeFocus(a.NarrativeFocus)
	focusB := normalizeFocus(b.NarrativeFocus)
	focusEqual := focusA != "" && focusA == focusB
	if !nucleusEqual && !focusEqual {
		return 0
	}

	sim := 0.5 * focusSimilarity(focusA, focusB)
	if nucleusEqual {
		sim += 0.3
	}
	sim += 0.1 * setOverlap(a.TopActors, b.TopActors)
	sim += 0.1 * setOverlap(a.KeyActions, b.KeyActions)
	return sim
}

// focusSimilarity buckets token Jaccard overlap: exact 1.0, >0.8 gives 0.9,
// >0.5 gives 0.7, else 0. A missing focus on either side is neutral 0.5 so
// pre-focus narratives neither attract nor repel.
func focusSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.5
	}
	if a == b {
		return 1.0
	}
	j := jaccard(strings.Fields(a), strings.Fields(b))
	switch {
	case j > 0.8:
		return 0.9
	case j > 0.5:
		return 0.7
	}
	return 0.0
}

func normalizeFocus(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func jaccard(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// setOverlap is |A∩B| / max(|A|,|B|) over case-insensitive string sets, 0
// when either side is empty.
func setOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	as := make(map[string]bool, len(a))
	for _, s := range a {
		as[strings.ToLower(strings.TrimSpace(s))] = true
	}
	bs := make(map[string]bool, len(b))
	for _, s := range b {
		bs[strings.ToLower(strings.TrimSpace(s))] = true
	}
	inter := 0
	for s := range as {
		if bs[s] {
			inter++
		}
	}
	max := len(as)
	if len(bs) > max {
		max = len(bs)
	}
	return float64(inter) / float64(max)
}
