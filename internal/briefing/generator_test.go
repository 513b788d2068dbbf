package briefing

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/llm"
	"cryptopulse/internal/signals"
)

type fakeBriefingStore struct {
	narratives    []core.Narrative
	resurrections []core.Narrative
	recent        []core.BriefingPattern
	inserted      []core.BriefingPattern
	briefings     []*core.Briefing
	existing      int
	countCalls    int
	countFrom     time.Time
	countTo       time.Time
	deleteCutoff  time.Time
}

func (f *fakeBriefingStore) ActiveNarratives(ctx context.Context, limit int) ([]core.Narrative, error) {
	return f.narratives, nil
}

func (f *fakeBriefingStore) Resurrections(ctx context.Context, limit int) ([]core.Narrative, error) {
	return f.resurrections, nil
}

func (f *fakeBriefingStore) InsertPattern(ctx context.Context, p *core.BriefingPattern) error {
	f.inserted = append(f.inserted, *p)
	return nil
}

func (f *fakeBriefingStore) RecentPatterns(ctx context.Context, since time.Time, limit int) ([]core.BriefingPattern, error) {
	return f.recent, nil
}

func (f *fakeBriefingStore) CountBriefingsInWindow(ctx context.Context, bt core.BriefingType, from, to time.Time) (int, error) {
	f.countCalls++
	f.countFrom = from
	f.countTo = to
	return f.existing, nil
}

func (f *fakeBriefingStore) InsertBriefing(ctx context.Context, b *core.Briefing) error {
	f.briefings = append(f.briefings, b)
	return nil
}

func (f *fakeBriefingStore) DeleteBriefingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCutoff = cutoff
	return 3, nil
}

type fakeSignals struct {
	signals []core.Signal
	err     error
}

func (f *fakeSignals) Trending(ctx context.Context, q signals.Query) ([]core.Signal, error) {
	return f.signals, f.err
}

func (f *fakeSignals) DefaultQuery() signals.Query {
	return signals.Query{Limit: 20, Timeframe: "24h"}
}

type reply struct {
	text string
	err  error
}

type fakeLLM struct {
	replies []reply
	calls   []llm.Request
}

func (f *fakeLLM) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.calls = append(f.calls, req)
	if len(f.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Response{Text: r.text, Model: "claude-test"}, nil
}

const draftJSON = `{
	"narrative": "Bitcoin dominated the day as ETF speculation accelerated.",
	"key_insights": ["ETF flows kept climbing"],
	"entities_mentioned": ["Bitcoin"],
	"detected_patterns": ["ETF coverage is broadening"],
	"recommendations": [{"title": "Watch ETF flow data", "narrative_title_hint": "Bitcoin: etf approval speculation"}]
}`

const revisedJSON = `{
	"narrative": "Revised: ETF speculation set the tone for Bitcoin coverage.",
	"key_insights": ["ETF flows kept climbing"],
	"entities_mentioned": ["Bitcoin"],
	"detected_patterns": [],
	"recommendations": []
}`

func approve(confidence string) string {
	return `{"confidence": ` + confidence + `, "issues": [], "revised": null}`
}

func newTestGenerator(st *fakeBriefingStore, inv *fakeLLM, sig *fakeSignals, now time.Time) *Generator {
	g := NewGenerator(Options{
		Store:   st,
		Signals: sig,
		LLM:     inv,
		Config:  config.Briefing{TopNarratives: 10, MaxRefinements: 2, TargetConfidence: 0.9, RetentionDays: 30},
	})
	g.now = func() time.Time { return now }
	g.patterns.now = g.now
	return g
}

func baseNarratives() []core.Narrative {
	return []core.Narrative{{
		ID:             "n1",
		Title:          "Bitcoin: etf approval speculation",
		NucleusEntity:  "Bitcoin",
		NarrativeFocus: "etf approval speculation",
		LifecycleState: core.StateHot,
		ArticleCount:   12,
		Velocity:       2.5,
		AvgSentiment:   0.4,
	}}
}

func TestGenerateComposesAndLinks(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{narratives: baseNarratives()}
	inv := &fakeLLM{replies: []reply{{text: draftJSON}, {text: approve("0.95")}}}
	sig := &fakeSignals{signals: []core.Signal{{Entity: "Bitcoin", SignalScore: 0.8}}}

	g := newTestGenerator(st, inv, sig, now)
	b, err := g.Generate(context.Background(), GenerateOptions{Type: core.BriefingMorning})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(st.briefings) != 1 {
		t.Fatalf("briefing not persisted")
	}
	if b.Type != core.BriefingMorning || b.Version != 1 {
		t.Errorf("unexpected briefing envelope: %+v", b)
	}
	if b.Content.Narrative != "Bitcoin dominated the day as ETF speculation accelerated." {
		t.Errorf("draft narrative lost: %q", b.Content.Narrative)
	}
	if len(b.Content.Recommendations) != 1 || b.Content.Recommendations[0].NarrativeID != "n1" {
		t.Errorf("recommendation should link to n1: %+v", b.Content.Recommendations)
	}
	if b.Metadata.Confidence != 0.95 || b.Metadata.RefinementIterations != 1 {
		t.Errorf("unexpected refinement metadata: %+v", b.Metadata)
	}
	if b.Metadata.NarrativeCount != 1 || b.Metadata.SignalCount != 1 {
		t.Errorf("unexpected snapshot counts: %+v", b.Metadata)
	}
	if b.IsSmoke || b.Published == nil || !*b.Published {
		t.Errorf("production run must publish: smoke=%v published=%v", b.IsSmoke, b.Published)
	}

	if len(inv.calls) != 2 {
		t.Fatalf("expected compose + one critique, got %d calls", len(inv.calls))
	}
	if inv.calls[0].Operation != "briefing_compose" || !inv.calls[0].Quality {
		t.Errorf("compose must use the quality chain: %+v", inv.calls[0])
	}
	if inv.calls[1].Operation != "briefing_critique" {
		t.Errorf("second call should critique: %+v", inv.calls[1])
	}
}

func TestGenerateAppliesRevision(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{narratives: baseNarratives()}
	inv := &fakeLLM{replies: []reply{
		{text: draftJSON},
		{text: `{"confidence": 0.6, "issues": ["vague"], "revised": ` + revisedJSON + `}`},
		{text: approve("0.92")},
	}}

	g := newTestGenerator(st, inv, &fakeSignals{}, now)
	b, err := g.Generate(context.Background(), GenerateOptions{Type: core.BriefingEvening})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Content.Narrative != "Revised: ETF speculation set the tone for Bitcoin coverage." {
		t.Errorf("revision not applied: %q", b.Content.Narrative)
	}
	if b.Metadata.RefinementIterations != 2 || b.Metadata.Confidence != 0.92 {
		t.Errorf("unexpected refinement metadata: %+v", b.Metadata)
	}
	if len(inv.calls) != 3 {
		t.Errorf("expected compose + 2 critiques, got %d", len(inv.calls))
	}
}

func TestGenerateCapsRefinements(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{narratives: baseNarratives()}
	inv := &fakeLLM{replies: []reply{
		{text: draftJSON},
		{text: approve("0.5")},
		{text: approve("0.5")},
		{text: approve("0.5")}, // must never be consumed
	}}

	g := newTestGenerator(st, inv, &fakeSignals{}, now)
	b, err := g.Generate(context.Background(), GenerateOptions{Type: core.BriefingAfternoon})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Metadata.RefinementIterations != 2 {
		t.Errorf("iteration cap is 2, got %d", b.Metadata.RefinementIterations)
	}
	if len(inv.calls) != 3 {
		t.Errorf("expected exactly 3 llm calls, got %d", len(inv.calls))
	}
}

func TestGenerateDayGuard(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{narratives: baseNarratives(), existing: 1}
	inv := &fakeLLM{replies: []reply{{text: draftJSON}}}

	g := newTestGenerator(st, inv, &fakeSignals{}, now)
	_, err := g.Generate(context.Background(), GenerateOptions{Type: core.BriefingMorning})
	if !errors.Is(err, ErrAlreadyGenerated) {
		t.Fatalf("expected ErrAlreadyGenerated, got %v", err)
	}
	if len(inv.calls) != 0 {
		t.Errorf("guard must fire before any llm spend")
	}
	if len(st.briefings) != 0 {
		t.Errorf("no duplicate briefing may be written")
	}

	wantFrom := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !st.countFrom.Equal(wantFrom) || !st.countTo.Equal(wantFrom.Add(24*time.Hour)) {
		t.Errorf("guard window should be the local day: [%v, %v)", st.countFrom, st.countTo)
	}
}

func TestGenerateForceBypassesGuard(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{narratives: baseNarratives(), existing: 1}
	inv := &fakeLLM{replies: []reply{{text: draftJSON}, {text: approve("0.95")}}}

	g := newTestGenerator(st, inv, &fakeSignals{}, now)
	if _, err := g.Generate(context.Background(), GenerateOptions{Type: core.BriefingMorning, Force: true}); err != nil {
		t.Fatalf("force should bypass the guard: %v", err)
	}
	if st.countCalls != 0 {
		t.Errorf("force runs should not consult the quota")
	}
	if len(st.briefings) != 1 {
		t.Errorf("forced briefing not written")
	}
}

func TestGenerateSmokeRun(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{narratives: baseNarratives(), existing: 1}
	inv := &fakeLLM{replies: []reply{{text: draftJSON}, {text: approve("0.95")}}}

	g := newTestGenerator(st, inv, &fakeSignals{}, now)
	b, err := g.Generate(context.Background(), GenerateOptions{Type: core.BriefingMorning, IsSmoke: true, TaskID: "t-1"})
	if err != nil {
		t.Fatalf("smoke runs ignore the day guard: %v", err)
	}
	if !b.IsSmoke || b.Published == nil || *b.Published {
		t.Errorf("smoke briefings must be unpublished: smoke=%v published=%v", b.IsSmoke, b.Published)
	}
	if b.TaskID != "t-1" {
		t.Errorf("task id not recorded: %q", b.TaskID)
	}
}

func TestGenerateWritesNoStubOnFailure(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{narratives: baseNarratives()}
	inv := &fakeLLM{replies: []reply{{err: llm.ErrAllModelsFailed}}}

	g := newTestGenerator(st, inv, &fakeSignals{}, now)
	if _, err := g.Generate(context.Background(), GenerateOptions{Type: core.BriefingMorning}); err == nil {
		t.Fatalf("llm failure must surface")
	}
	if len(st.briefings) != 0 {
		t.Errorf("no stub briefing may be written on failure")
	}
}

func TestGenerateSurvivesCritiqueFailure(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{narratives: baseNarratives()}
	inv := &fakeLLM{replies: []reply{{text: draftJSON}, {err: errors.New("model down")}}}

	g := newTestGenerator(st, inv, &fakeSignals{}, now)
	b, err := g.Generate(context.Background(), GenerateOptions{Type: core.BriefingMorning})
	if err != nil {
		t.Fatalf("a failed critique keeps the draft: %v", err)
	}
	if b.Metadata.RefinementIterations != 0 || b.Metadata.Confidence != 0.5 {
		t.Errorf("uncritiqued draft should carry neutral confidence: %+v", b.Metadata)
	}
}

func TestGenerateProceedsWithoutSignals(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{narratives: baseNarratives()}
	inv := &fakeLLM{replies: []reply{{text: draftJSON}, {text: approve("0.95")}}}

	g := newTestGenerator(st, inv, &fakeSignals{err: errors.New("redis down")}, now)
	b, err := g.Generate(context.Background(), GenerateOptions{Type: core.BriefingMorning})
	if err != nil {
		t.Fatalf("signal failure must degrade, not fail: %v", err)
	}
	if b.Metadata.SignalCount != 0 {
		t.Errorf("expected zero signals in metadata, got %d", b.Metadata.SignalCount)
	}
}

func TestGenerateRejectsUnknownType(t *testing.T) {
	g := newTestGenerator(&fakeBriefingStore{}, &fakeLLM{}, &fakeSignals{}, time.Now())
	if _, err := g.Generate(context.Background(), GenerateOptions{Type: "midnight"}); err == nil {
		t.Fatalf("unknown briefing type must be rejected")
	}
}

func TestCleanupUsesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &fakeBriefingStore{}
	g := newTestGenerator(st, &fakeLLM{}, &fakeSignals{}, now)

	deleted, err := g.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected delete count from store, got %d", deleted)
	}
	if want := now.Add(-30 * 24 * time.Hour); !st.deleteCutoff.Equal(want) {
		t.Errorf("cutoff should be 30 days back, got %v", st.deleteCutoff)
	}
}

func TestMatchNarrative(t *testing.T) {
	narratives := []core.Narrative{
		{ID: "n1", Title: "Bitcoin: ETF Approval Speculation", NarrativeFocus: "etf approval speculation"},
		{ID: "n2", Title: "Solana: outage recovery", NarrativeFocus: "network outage recovery"},
	}

	cases := []struct {
		name string
		hint string
		want string
	}{
		{"exact after normalization", "bitcoin etf approval speculation", "n1"},
		{"fuzzy focus overlap", "etf approval speculation delay", "n1"},
		{"no overlap", "dogecoin payments", ""},
		{"empty hint", "", ""},
	}
	for _, c := range cases {
		if got := matchNarrative(c.hint, narratives); got != c.want {
			t.Errorf("%s: matchNarrative(%q) = %q, want %q", c.name, c.hint, got, c.want)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	if got := normalizeTitle("Bitcoin: ETF Approval!!"); got != "bitcoin etf approval" {
		t.Errorf("normalizeTitle = %q", got)
	}
	if got := normalizeTitle("  spaced   out  "); got != "spaced out" {
		t.Errorf("normalizeTitle = %q", got)
	}
}

func TestLocalDayBounds(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC) // 05:00 next day local
	from, to := localDayBounds(now, loc)
	if from.Day() != 11 || from.Hour() != 0 {
		t.Errorf("unexpected day start: %v", from)
	}
	if to.Sub(from) != 24*time.Hour {
		t.Errorf("day window should span 24h, got %v", to.Sub(from))
	}
}
