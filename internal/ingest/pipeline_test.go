package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/extract"
	"cryptopulse/internal/relevance"
)

type fakeIngestStore struct {
	urls         map[string]bool
	fingerprints map[string]bool
	articles     []core.Article
	mentions     []core.EntityMention
	checkErr     error
}

func newFakeIngestStore() *fakeIngestStore {
	return &fakeIngestStore{urls: map[string]bool{}, fingerprints: map[string]bool{}}
}

func (s *fakeIngestStore) ArticleURLExists(_ context.Context, url string) (bool, error) {
	if s.checkErr != nil {
		return false, s.checkErr
	}
	return s.urls[url], nil
}

func (s *fakeIngestStore) ArticleFingerprintExists(_ context.Context, fp string) (bool, error) {
	if s.checkErr != nil {
		return false, s.checkErr
	}
	return s.fingerprints[fp], nil
}

func (s *fakeIngestStore) InsertArticle(_ context.Context, a *core.Article) (bool, error) {
	if s.urls[a.URL] {
		return false, nil
	}
	s.urls[a.URL] = true
	s.fingerprints[a.Fingerprint] = true
	s.articles = append(s.articles, *a)
	return true, nil
}

func (s *fakeIngestStore) InsertMentions(_ context.Context, mentions []core.EntityMention) error {
	s.mentions = append(s.mentions, mentions...)
	return nil
}

// fakeExtractor scripts results by article title; unscripted articles fail.
type fakeExtractor struct {
	byTitle map[string]extract.Result
	batches [][]core.Article
}

func (f *fakeExtractor) ExtractBatch(_ context.Context, articles []core.Article) []extract.Result {
	f.batches = append(f.batches, articles)
	out := make([]extract.Result, len(articles))
	for i, a := range articles {
		res, ok := f.byTitle[a.Title]
		if !ok {
			res = extract.Result{Err: errors.New("unscripted article: " + a.Title)}
		}
		res.ArticleID = a.ID
		out[i] = res
	}
	return out
}

func rssWithItems(items ...string) string {
	return `<?xml version="1.0"?><rss version="2.0"><channel><title>Test Feed</title>` +
		strings.Join(items, "") + `</channel></rss>`
}

func rssItemXML(title, link, desc, pubDate string) string {
	return fmt.Sprintf("<item><title>%s</title><link>%s</link><description>%s</description><pubDate>%s</pubDate></item>",
		title, link, desc, pubDate)
}

func testPipeline(t *testing.T, feedXML string, store *fakeIngestStore, ex *fakeExtractor) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedXML))
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry([]core.Feed{{Name: "Test Feed", URL: srv.URL, Active: true}})
	fetcher := NewFetcher(reg, config.Ingest{})
	fetcher.client = srv.Client()
	fetcher.now = func() time.Time { return now }

	p := NewPipeline(Options{Store: store, Fetcher: fetcher, Extractor: ex, Config: config.Ingest{}})
	p.now = func() time.Time { return now }
	return p
}

func TestPipelineRunEndToEnd(t *testing.T) {
	feedXML := rssWithItems(
		rssItemXML("Bitcoin ETF inflows accelerate", "https://example.com/btc-etf",
			"Spot bitcoin ETF products saw record inflows.", "Tue, 10 Mar 2026 08:00:00 +0000"),
		rssItemXML("Celebrity chef shares brunch recipe", "https://example.com/brunch",
			"A celebrity recipe for spring.", "Tue, 10 Mar 2026 07:00:00 +0000"),
		rssItemXML("Already ingested story", "https://example.com/dupe",
			"Bitcoin commentary.", "Tue, 10 Mar 2026 06:00:00 +0000"),
	)

	store := newFakeIngestStore()
	store.urls["https://example.com/dupe"] = true

	ex := &fakeExtractor{byTitle: map[string]extract.Result{
		"Bitcoin ETF inflows accelerate": {Extraction: extract.Extraction{
			Entities: []core.Entity{
				{Name: "Bitcoin", Type: core.EntityProject, Confidence: 0.95},
				{Name: "BlackRock", Type: core.EntityOrganization, Confidence: 0.9},
			},
			NucleusEntity:  "Bitcoin",
			NarrativeFocus: "etf approval speculation",
			TopActors:      []string{"Bitcoin", "BlackRock"},
			KeyActions:     []string{"record inflows"},
			Sentiment:      core.SentimentPositive,
			SentimentScore: 0.7,
			Method:         core.ExtractionLLM,
		}},
	}}

	p := testPipeline(t, feedXML, store, ex)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Seen != 3 {
		t.Errorf("Seen = %d, want 3", report.Seen)
	}
	if report.DuplicateURL != 1 {
		t.Errorf("DuplicateURL = %d, want 1", report.DuplicateURL)
	}
	if report.Irrelevant != 1 {
		t.Errorf("Irrelevant = %d, want 1", report.Irrelevant)
	}
	if report.Extracted != 1 || report.Persisted != 1 {
		t.Errorf("Extracted/Persisted = %d/%d, want 1/1", report.Extracted, report.Persisted)
	}
	if report.MentionRows != 2 {
		t.Errorf("MentionRows = %d, want 2", report.MentionRows)
	}

	if len(store.articles) != 1 {
		t.Fatalf("persisted %d articles, want 1", len(store.articles))
	}
	a := store.articles[0]
	if a.URL != "https://example.com/btc-etf" {
		t.Errorf("URL = %q", a.URL)
	}
	if a.Source != "Test Feed" {
		t.Errorf("Source = %q", a.Source)
	}
	if a.RelevanceTier != relevance.Tier1 {
		t.Errorf("RelevanceTier = %d, want 1", a.RelevanceTier)
	}
	if a.ExtractionMethod != core.ExtractionLLM {
		t.Errorf("ExtractionMethod = %q", a.ExtractionMethod)
	}
	if a.NucleusEntity != "Bitcoin" || a.NarrativeFocus != "etf approval speculation" {
		t.Errorf("extraction not applied: nucleus=%q focus=%q", a.NucleusEntity, a.NarrativeFocus)
	}
	if a.Fingerprint == "" {
		t.Error("Fingerprint not set")
	}
	wantPub := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if !a.PublishedAt.Equal(wantPub) {
		t.Errorf("PublishedAt = %v, want %v", a.PublishedAt, wantPub)
	}

	if len(store.mentions) != 2 {
		t.Fatalf("stored %d mentions, want 2", len(store.mentions))
	}
	for _, m := range store.mentions {
		if m.ArticleID != a.ID {
			t.Errorf("mention ArticleID = %q, want %q", m.ArticleID, a.ID)
		}
		if m.Source != "Test Feed" {
			t.Errorf("mention Source = %q", m.Source)
		}
		if !m.Timestamp.Equal(a.PublishedAt) {
			t.Errorf("mention Timestamp = %v", m.Timestamp)
		}
		if m.Sentiment != 0.7 {
			t.Errorf("mention Sentiment = %v", m.Sentiment)
		}
	}
	if store.mentions[0].Entity != "Bitcoin" || store.mentions[1].Entity != "BlackRock" {
		t.Errorf("mention entities = %q, %q", store.mentions[0].Entity, store.mentions[1].Entity)
	}
}

func TestPipelineRuleFallback(t *testing.T) {
	feedXML := rssWithItems(
		rssItemXML("Bitcoin plunges after exchange hack", "https://example.com/btc-hack",
			"A major crypto exchange reported a hack.", "Tue, 10 Mar 2026 09:00:00 +0000"),
	)

	store := newFakeIngestStore()
	ex := &fakeExtractor{byTitle: map[string]extract.Result{
		"Bitcoin plunges after exchange hack": {Err: extract.ErrDegenerate},
	}}

	p := testPipeline(t, feedXML, store, ex)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.RuleFallback != 1 || report.Extracted != 0 {
		t.Errorf("RuleFallback/Extracted = %d/%d, want 1/0", report.RuleFallback, report.Extracted)
	}
	if report.Persisted != 1 {
		t.Fatalf("Persisted = %d, want 1", report.Persisted)
	}

	a := store.articles[0]
	if a.ExtractionMethod != core.ExtractionRule {
		t.Errorf("ExtractionMethod = %q, want rule", a.ExtractionMethod)
	}
	if a.RelevanceTier != relevance.Tier2 {
		t.Errorf("RelevanceTier = %d, want 2 on rule fallback", a.RelevanceTier)
	}
	if a.NarrativeFocus != "" {
		t.Errorf("rule fallback must not invent a focus, got %q", a.NarrativeFocus)
	}
	found := false
	for _, e := range a.Entities {
		if e.Name == "$BTC" {
			found = true
		}
	}
	if !found {
		t.Errorf("rule extraction missed the coin, entities = %+v", a.Entities)
	}
	if a.Sentiment != core.SentimentNegative {
		t.Errorf("Sentiment = %q, want neg", a.Sentiment)
	}
	if len(store.mentions) != len(a.Entities) {
		t.Errorf("mentions = %d, entities = %d", len(store.mentions), len(a.Entities))
	}
}

func TestPipelineContentDedupe(t *testing.T) {
	// Same wire story syndicated under two URLs.
	feedXML := rssWithItems(
		rssItemXML("Ethereum staking yields climb", "https://example.com/eth-1",
			"Staking yields on ethereum climbed again this week.", "Tue, 10 Mar 2026 08:00:00 +0000"),
		rssItemXML("Ethereum staking yields climb", "https://mirror.example.com/eth-2",
			"Staking yields on ethereum climbed again this week.", "Tue, 10 Mar 2026 08:05:00 +0000"),
	)

	store := newFakeIngestStore()
	ex := &fakeExtractor{byTitle: map[string]extract.Result{
		"Ethereum staking yields climb": {Extraction: extract.Extraction{
			Entities:      []core.Entity{{Name: "Ethereum", Type: core.EntityProject, Confidence: 0.9}},
			NucleusEntity: "Ethereum",
			TopActors:     []string{"Ethereum"},
			Sentiment:     core.SentimentPositive,
			Method:        core.ExtractionLLM,
		}},
	}}

	p := testPipeline(t, feedXML, store, ex)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.DuplicateContent != 1 {
		t.Errorf("DuplicateContent = %d, want 1", report.DuplicateContent)
	}
	if report.Persisted != 1 {
		t.Errorf("Persisted = %d, want 1", report.Persisted)
	}
}

func TestPipelineSkipsOnDedupeCheckError(t *testing.T) {
	feedXML := rssWithItems(
		rssItemXML("Bitcoin rally continues", "https://example.com/btc-rally",
			"Bitcoin extended its rally.", "Tue, 10 Mar 2026 08:00:00 +0000"),
	)

	store := newFakeIngestStore()
	store.checkErr = errors.New("store down")
	ex := &fakeExtractor{}

	p := testPipeline(t, feedXML, store, ex)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}
	if len(ex.batches) != 0 {
		t.Error("extractor must not run when dedupe checks fail")
	}
	if len(store.articles) != 0 {
		t.Error("no article should persist when dedupe checks fail")
	}
}

func TestPipelineMissingDateUsesFetchTime(t *testing.T) {
	feedXML := rssWithItems(
		rssItemXML("Solana network congestion returns", "https://example.com/sol-congestion",
			"Solana validators reported congestion.", ""),
	)

	store := newFakeIngestStore()
	ex := &fakeExtractor{byTitle: map[string]extract.Result{
		"Solana network congestion returns": {Extraction: extract.Extraction{
			Entities:      []core.Entity{{Name: "Solana", Type: core.EntityProject, Confidence: 0.9}},
			NucleusEntity: "Solana",
			Sentiment:     core.SentimentNegative,
			Method:        core.ExtractionLLM,
		}},
	}}

	p := testPipeline(t, feedXML, store, ex)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.articles) != 1 {
		t.Fatal("article not persisted")
	}
	want := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if !store.articles[0].PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want fetch time %v", store.articles[0].PublishedAt, want)
	}
}

func TestMentionRowsSkipEntityFreeArticles(t *testing.T) {
	a := &core.Article{ID: "a1", Source: "Test", PublishedAt: time.Now()}
	if rows := mentionRows(a); rows != nil {
		t.Errorf("expected nil for entity-free article, got %d rows", len(rows))
	}
}
