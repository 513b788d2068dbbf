package core

import (
	"testing"
	"time"
)

func TestComputeFingerprintHashDeterministic(t *testing.T) {
	h1 := ComputeFingerprintHash("Bitcoin", []string{"Bitcoin", "ETF", "BlackRock"})
	h2 := ComputeFingerprintHash("Bitcoin", []string{"Bitcoin", "ETF", "BlackRock"})
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 40 {
		t.Errorf("expected 40-char sha1 hex, got %d chars", len(h1))
	}
}

func TestComputeFingerprintHashActorOrderInsensitive(t *testing.T) {
	h1 := ComputeFingerprintHash("Bitcoin", []string{"BlackRock", "ETF", "Bitcoin"})
	h2 := ComputeFingerprintHash("Bitcoin", []string{"Bitcoin", "ETF", "BlackRock"})
	if h1 != h2 {
		t.Error("salience reordering of actors must not change the hash")
	}
}

func TestComputeFingerprintHashSensitivity(t *testing.T) {
	base := ComputeFingerprintHash("Bitcoin", []string{"ETF"})
	if base == ComputeFingerprintHash("Ethereum", []string{"ETF"}) {
		t.Error("different nucleus must change the hash")
	}
	if base == ComputeFingerprintHash("Bitcoin", []string{"SEC"}) {
		t.Error("different actors must change the hash")
	}
	if base == ComputeFingerprintHash("Bitcoin", nil) {
		t.Error("dropping actors must change the hash")
	}
}

func TestComputeFingerprintHashNoActorInjection(t *testing.T) {
	// The separator must keep ("a|b") distinct from ("a","b").
	h1 := ComputeFingerprintHash("X", []string{"a|b"})
	h2 := ComputeFingerprintHash("X", []string{"a", "b"})
	if h1 == h2 {
		t.Error("joined actors must not collide with split actors")
	}
}

func TestComputeArticleFingerprint(t *testing.T) {
	a := ComputeArticleFingerprint("Bitcoin Surges", "Body text.")
	b := ComputeArticleFingerprint("  bitcoin surges  ", "body text.")
	if a != b {
		t.Error("fingerprint should normalize case and surrounding whitespace")
	}
	c := ComputeArticleFingerprint("Bitcoin Surges", "Different body.")
	if a == c {
		t.Error("different body must change the fingerprint")
	}
}

func TestLifecycleStateSets(t *testing.T) {
	active := []LifecycleState{StateEmerging, StateRising, StateHot, StateCooling, StateReactivated}
	for _, s := range active {
		if !s.Active() {
			t.Errorf("%s should be active", s)
		}
	}
	if StateDormant.Active() {
		t.Error("dormant must not be active; it exits only via reactivation")
	}

	if !StateReactivated.Linkable() || !StateHot.Linkable() {
		t.Error("reactivated and hot should be linkable from signals")
	}
	if StateCooling.Linkable() || StateDormant.Linkable() {
		t.Error("cooling and dormant should not be linkable from signals")
	}
}

func TestSentimentScore(t *testing.T) {
	if SentimentPositive.Score() != 1 || SentimentNegative.Score() != -1 || SentimentNeutral.Score() != 0 {
		t.Error("sentiment label scores off")
	}
}

func TestBriefingIsPublishedBackCompat(t *testing.T) {
	legacy := Briefing{ID: "b1"} // written before the flag existed
	if !legacy.IsPublished() {
		t.Error("missing published flag must read as published")
	}

	f := false
	draft := Briefing{ID: "b2", Published: &f}
	if draft.IsPublished() {
		t.Error("explicit published=false must read as unpublished")
	}
}

func TestValidBriefingType(t *testing.T) {
	for _, ok := range []string{"morning", "afternoon", "evening"} {
		if !ValidBriefingType(ok) {
			t.Errorf("%s should be valid", ok)
		}
	}
	for _, bad := range []string{"", "night", "MORNING"} {
		if ValidBriefingType(bad) {
			t.Errorf("%q should be invalid", bad)
		}
	}
}

func TestNarrativeHasArticle(t *testing.T) {
	n := Narrative{ArticleIDs: []string{"a1", "a2"}}
	if !n.HasArticle("a1") || n.HasArticle("a3") {
		t.Error("HasArticle membership check wrong")
	}
}

func TestDayKey(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	// 02:00 UTC is still the previous day in New York.
	utc := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	if got := DayKey(utc, ny); got != "2025-03-09" {
		t.Errorf("DayKey in New York = %s, want 2025-03-09", got)
	}
	if got := DayKey(utc, nil); got != "2025-03-10" {
		t.Errorf("DayKey default UTC = %s, want 2025-03-10", got)
	}
}
