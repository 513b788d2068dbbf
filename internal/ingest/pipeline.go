package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/extract"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/relevance"
)

const (
	defaultArticlesPerMinute = 20
	defaultBatchSize         = 10
)

// Store is the persistence slice the pipeline writes through.
type Store interface {
	ArticleURLExists(ctx context.Context, url string) (bool, error)
	ArticleFingerprintExists(ctx context.Context, fingerprint string) (bool, error)
	InsertArticle(ctx context.Context, a *core.Article) (bool, error)
	InsertMentions(ctx context.Context, mentions []core.EntityMention) error
}

// Extractor is the enrichment slice, satisfied by extract.Extractor.
type Extractor interface {
	ExtractBatch(ctx context.Context, articles []core.Article) []extract.Result
}

// Pipeline runs one ingestion pass: fetch feeds, drop duplicates, classify
// relevance, enrich through the rate-limited extractor, persist articles and
// their entity mention rows.
type Pipeline struct {
	store      Store
	fetcher    *Fetcher
	classifier *relevance.Classifier
	extractor  Extractor
	rules      *extract.RuleExtractor
	limiter    *rate.Limiter
	batchSize  int
	now        func() time.Time
}

// Options wires a pipeline.
type Options struct {
	Store     Store
	Fetcher   *Fetcher
	Extractor Extractor
	Config    config.Ingest
}

// NewPipeline builds the pipeline. The limiter spreads the configured
// articles-per-minute budget evenly, with burst capacity for one extraction
// batch so a chunk is admitted as a unit.
func NewPipeline(opts Options) *Pipeline {
	perMinute := opts.Config.ArticlesPerMinute
	if perMinute <= 0 {
		perMinute = defaultArticlesPerMinute
	}
	batch := opts.Config.ExtractionBatch
	if batch <= 0 || batch > defaultBatchSize {
		batch = defaultBatchSize
	}
	return &Pipeline{
		store:      opts.Store,
		fetcher:    opts.Fetcher,
		classifier: relevance.NewClassifier(),
		extractor:  opts.Extractor,
		rules:      extract.NewRuleExtractor(),
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), batch),
		batchSize:  batch,
		now:        time.Now,
	}
}

// Report counts what one ingestion pass did.
type Report struct {
	Fetch            FetchStats `json:"fetch"`
	Seen             int        `json:"seen"`
	DuplicateURL     int        `json:"duplicate_url"`
	DuplicateContent int        `json:"duplicate_content"`
	Irrelevant       int        `json:"irrelevant"`
	Extracted        int        `json:"extracted"`
	RuleFallback     int        `json:"rule_fallback"`
	Persisted        int        `json:"persisted"`
	MentionRows      int        `json:"mention_rows"`
	Failed           int        `json:"failed"`
}

// Run executes one full ingestion pass. Per-item failures are counted and
// logged; the pass itself only fails on context cancellation.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	items, stats := p.fetcher.FetchAll(ctx)
	report.Fetch = stats

	pending := p.screen(ctx, items, report)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if err := p.enrich(ctx, pending, report); err != nil {
		return report, err
	}

	logger.Info("ingestion pass complete",
		"seen", report.Seen,
		"duplicate_url", report.DuplicateURL,
		"duplicate_content", report.DuplicateContent,
		"irrelevant", report.Irrelevant,
		"extracted", report.Extracted,
		"rule_fallback", report.RuleFallback,
		"persisted", report.Persisted,
		"mentions", report.MentionRows,
		"failed", report.Failed)
	return report, nil
}

// screen turns feed items into candidate articles, dropping duplicates and
// tier-3 noise before any LLM call.
func (p *Pipeline) screen(ctx context.Context, items []core.FeedItem, report *Report) []core.Article {
	seenURLs := make(map[string]bool, len(items))
	seenFingerprints := make(map[string]bool, len(items))
	pending := make([]core.Article, 0, len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		url := strings.TrimSpace(item.Link)
		if url == "" {
			continue
		}
		report.Seen++

		// Cross-posted items inside the same pass.
		if seenURLs[url] {
			report.DuplicateURL++
			continue
		}
		seenURLs[url] = true

		exists, err := p.store.ArticleURLExists(ctx, url)
		if err != nil {
			logger.Warn("url dedupe check failed", "url", url, "error", err.Error())
			report.Failed++
			continue
		}
		if exists {
			report.DuplicateURL++
			continue
		}

		title := StripHTML(item.Title)
		body := StripHTML(item.Description)
		fingerprint := core.ComputeArticleFingerprint(title, body)

		// Same wire story republished under a different URL, either earlier in
		// this pass or in a previous one.
		if seenFingerprints[fingerprint] {
			report.DuplicateContent++
			continue
		}
		seenFingerprints[fingerprint] = true

		exists, err = p.store.ArticleFingerprintExists(ctx, fingerprint)
		if err != nil {
			logger.Warn("fingerprint dedupe check failed", "url", url, "error", err.Error())
			report.Failed++
			continue
		}
		if exists {
			report.DuplicateContent++
			continue
		}

		res := p.classifier.Classify(title, body)
		if res.Tier >= relevance.Tier3 {
			report.Irrelevant++
			continue
		}

		published := item.Published
		if published.IsZero() {
			published = p.now()
		}

		pending = append(pending, core.Article{
			ID:            uuid.NewString(),
			URL:           url,
			Source:        item.Source,
			PublishedAt:   published.UTC(),
			Title:         title,
			Body:          body,
			Fingerprint:   fingerprint,
			RelevanceTier: res.Tier,
			CreatedAt:     p.now().UTC(),
		})
	}
	return pending
}

// enrich runs pending articles through the extractor in rate-limited batches
// and persists each result, falling back to rule extraction when the LLM path
// cannot produce a usable result.
func (p *Pipeline) enrich(ctx context.Context, pending []core.Article, report *Report) error {
	for start := 0; start < len(pending); start += p.batchSize {
		end := start + p.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		if err := p.limiter.WaitN(ctx, len(chunk)); err != nil {
			return err
		}

		results := p.extractor.ExtractBatch(ctx, chunk)
		for i := range chunk {
			if err := ctx.Err(); err != nil {
				return err
			}
			article := chunk[i]
			p.applyExtraction(&article, results[i], report)
			p.persist(ctx, &article, report)
		}
	}
	return nil
}

// applyExtraction merges the extraction into the article, or falls back to
// the deterministic rule path. Rule-enriched articles get tier 2: the
// classifier score is keyword evidence, not extraction evidence, and the
// matcher must never see an invented focus.
func (p *Pipeline) applyExtraction(article *core.Article, res extract.Result, report *Report) {
	ext := res.Extraction
	if res.Err != nil {
		logger.Debug("extraction fell back to rules",
			"article", article.ID, "error", res.Err.Error())
		ext = p.rules.Extract(article.Title, article.Body)
		article.RelevanceTier = relevance.Tier2
		report.RuleFallback++
	} else {
		report.Extracted++
	}

	article.Entities = ext.Entities
	article.NucleusEntity = ext.NucleusEntity
	article.NarrativeFocus = ext.NarrativeFocus
	article.TopActors = ext.TopActors
	article.KeyActions = ext.KeyActions
	article.Sentiment = ext.Sentiment
	article.SentimentScore = ext.SentimentScore
	article.ExtractionMethod = ext.Method
}

// persist writes the article and its mention ledger rows.
func (p *Pipeline) persist(ctx context.Context, article *core.Article, report *Report) {
	inserted, err := p.store.InsertArticle(ctx, article)
	if err != nil {
		logger.Warn("failed to persist article", "url", article.URL, "error", err.Error())
		report.Failed++
		return
	}
	if !inserted {
		// Lost a race with a concurrent pass; the unique URL index won.
		report.DuplicateURL++
		return
	}
	report.Persisted++

	mentions := mentionRows(article)
	if len(mentions) == 0 {
		return
	}
	if err := p.store.InsertMentions(ctx, mentions); err != nil {
		logger.Warn("failed to persist entity mentions",
			"article", article.ID, "count", len(mentions), "error", err.Error())
		report.Failed++
		return
	}
	report.MentionRows += len(mentions)
}

// mentionRows builds one ledger row per extracted entity so the signal
// detector can query mentions by entity instead of scanning articles.
func mentionRows(article *core.Article) []core.EntityMention {
	if len(article.Entities) == 0 {
		return nil
	}
	rows := make([]core.EntityMention, 0, len(article.Entities))
	for _, e := range article.Entities {
		rows = append(rows, core.EntityMention{
			ID:         uuid.NewString(),
			Entity:     e.Name,
			EntityType: e.Type,
			ArticleID:  article.ID,
			Source:     article.Source,
			Timestamp:  article.PublishedAt,
			Sentiment:  article.SentimentScore,
		})
	}
	return rows
}
