package briefing

import (
	"context"
	"math"
	"testing"
	"time"

	"cryptopulse/internal/core"
)

func newPatternDetectorAt(st *fakeBriefingStore, now time.Time) *PatternDetector {
	d := NewPatternDetector(st)
	d.now = func() time.Time { return now }
	return d
}

func TestDetectResurrections(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{
		resurrections: []core.Narrative{
			{
				ID:               "fresh",
				Title:            "Solana: outage recovery",
				NucleusEntity:    "Solana",
				ReactivatedCount: 1,
				LifecycleHistory: []core.LifecycleEntry{
					{State: core.StateReactivated, EnteredAt: now.Add(-2 * 24 * time.Hour)},
				},
			},
			{
				ID:               "old",
				Title:            "Mt. Gox: repayments",
				NucleusEntity:    "Mt. Gox",
				ReactivatedCount: 3,
				LifecycleHistory: []core.LifecycleEntry{
					{State: core.StateReactivated, EnteredAt: now.Add(-10 * 24 * time.Hour)},
				},
			},
		},
	}

	patterns, err := newPatternDetectorAt(st, now).Detect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("only the week-fresh comeback counts, got %+v", patterns)
	}
	p := patterns[0]
	if p.Type != core.PatternResurrection {
		t.Errorf("wrong type: %s", p.Type)
	}
	if len(p.Entities) != 1 || p.Entities[0] != "Solana" {
		t.Errorf("pattern should carry the nucleus: %+v", p.Entities)
	}
	if math.Abs(p.Strength-0.75) > 1e-9 {
		t.Errorf("one reactivation should score 0.75, got %v", p.Strength)
	}
}

func TestDetectCrossNarrativeEntities(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{
		narratives: []core.Narrative{
			{ID: "n1", NucleusEntity: "Bitcoin", Entities: []string{"BlackRock", "Bitcoin"}},
			{ID: "n2", NucleusEntity: "Ethereum", Entities: []string{"BlackRock", "Ethereum"}},
			{ID: "n3", NucleusEntity: "Solana", Entities: []string{"BlackRock", "Solana"}},
		},
	}

	patterns, err := newPatternDetectorAt(st, now).Detect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected one cross-narrative pattern, got %+v", patterns)
	}
	p := patterns[0]
	if p.Type != core.PatternCrossNarrative {
		t.Errorf("wrong type: %s", p.Type)
	}
	if len(p.NarrativeIDs) != 3 {
		t.Errorf("expected 3 linked narratives, got %v", p.NarrativeIDs)
	}
	if p.Entities[0] != "BlackRock" {
		t.Errorf("display casing should survive: %v", p.Entities)
	}
	if math.Abs(p.Strength-0.6) > 1e-9 {
		t.Errorf("3 of 5 narratives should score 0.6, got %v", p.Strength)
	}
}

func TestDetectSentimentDivergence(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{
		narratives: []core.Narrative{
			{ID: "bull", Title: "Bitcoin: etf inflows", NucleusEntity: "Bitcoin", AvgSentiment: 0.6},
			{ID: "bear", Title: "Bitcoin: miner capitulation", NucleusEntity: "Bitcoin", AvgSentiment: -0.4},
			{ID: "e1", Title: "Ethereum: staking growth", NucleusEntity: "Ethereum", AvgSentiment: 0.9},
			{ID: "e2", Title: "Ethereum: gas optimism", NucleusEntity: "Ethereum", AvgSentiment: 0.05},
		},
	}

	patterns, err := newPatternDetectorAt(st, now).Detect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("only the opposite-sign pair diverges, got %+v", patterns)
	}
	p := patterns[0]
	if p.Type != core.PatternSentimentDivergence {
		t.Errorf("wrong type: %s", p.Type)
	}
	if len(p.NarrativeIDs) != 2 {
		t.Errorf("divergence links both narratives: %v", p.NarrativeIDs)
	}
	if math.Abs(p.Strength-0.5) > 1e-9 {
		t.Errorf("gap of 1.0 should score 0.5, got %v", p.Strength)
	}
}

func TestDetectSkipsRecentDuplicates(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{
		narratives: []core.Narrative{
			{ID: "n1", NucleusEntity: "Bitcoin", Entities: []string{"BlackRock"}},
			{ID: "n2", NucleusEntity: "Ethereum", Entities: []string{"BlackRock"}},
			{ID: "n3", NucleusEntity: "Solana", Entities: []string{"BlackRock"}},
		},
		recent: []core.BriefingPattern{
			{
				Type:         core.PatternCrossNarrative,
				Entities:     []string{"BlackRock"},
				NarrativeIDs: []string{"n3", "n1", "n2"}, // order must not matter
			},
		},
	}

	patterns, err := newPatternDetectorAt(st, now).Detect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("detection still reports the pattern, got %+v", patterns)
	}
	if len(st.inserted) != 0 {
		t.Errorf("recent duplicate must not be re-inserted: %+v", st.inserted)
	}
}

func TestDetectPersistsNovelPatterns(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{
		narratives: []core.Narrative{
			{ID: "n1", NucleusEntity: "Bitcoin", Entities: []string{"BlackRock"}},
			{ID: "n2", NucleusEntity: "Ethereum", Entities: []string{"BlackRock"}},
			{ID: "n3", NucleusEntity: "Solana", Entities: []string{"BlackRock"}},
		},
	}

	if _, err := newPatternDetectorAt(st, now).Detect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.inserted) != 1 {
		t.Fatalf("novel pattern should persist, got %d", len(st.inserted))
	}
	if st.inserted[0].ID == "" || !st.inserted[0].DetectedAt.Equal(now) {
		t.Errorf("persisted pattern incomplete: %+v", st.inserted[0])
	}
}
