// Package extract turns raw article text into structured crypto data: typed
// entities, the nucleus entity, a short narrative focus, actors, actions, and
// sentiment. The LLM does the heavy lifting in batches; a rule fallback keeps
// degenerate articles from blocking the pipeline.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/llm"
	"cryptopulse/internal/logger"
)

// ErrDegenerate marks an extraction too thin to use: no nucleus entity to
// anchor matching. The pipeline persists such articles via the rule fallback.
var ErrDegenerate = errors.New("extract: degenerate extraction")

// Invoker is the slice of the LLM façade the extractor needs.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Extraction is the structured output for one article.
type Extraction struct {
	Entities       []core.Entity
	NucleusEntity  string
	NarrativeFocus string
	TopActors      []string
	KeyActions     []string
	Sentiment      core.Sentiment
	SentimentScore float64
	Method         core.ExtractionMethod
}

// Result pairs an article with its extraction or the reason it failed.
type Result struct {
	ArticleID string
	Extraction
	Err error
}

// Extractor batches articles through the LLM façade.
type Extractor struct {
	llm       Invoker
	batchSize int
	truncate  int
}

// NewExtractor builds an extractor from ingest config.
func NewExtractor(client Invoker, cfg config.Ingest) *Extractor {
	batch := cfg.ExtractionBatch
	if batch <= 0 || batch > 10 {
		batch = 10
	}
	truncate := cfg.BodyTruncateChars
	if truncate <= 0 {
		truncate = 2000
	}
	return &Extractor{llm: client, batchSize: batch, truncate: truncate}
}

// ExtractBatch enriches articles in chunks of at most the batch size. The
// returned slice is aligned with the input; failed articles carry Err and no
// extraction.
func (x *Extractor) ExtractBatch(ctx context.Context, articles []core.Article) []Result {
	results := make([]Result, len(articles))
	for start := 0; start < len(articles); start += x.batchSize {
		end := start + x.batchSize
		if end > len(articles) {
			end = len(articles)
		}
		x.extractChunk(ctx, articles[start:end], results[start:end])
	}
	return results
}

// extractChunk does one LLM call for a chunk. On a chunk-level failure every
// article is retried individually so one bad apple cannot sink its siblings.
func (x *Extractor) extractChunk(ctx context.Context, articles []core.Article, out []Result) {
	for i := range articles {
		out[i].ArticleID = articles[i].ID
	}

	resp, err := x.llm.Invoke(ctx, llm.Request{
		Operation:   "extract_entities",
		System:      extractionSystem,
		Prompt:      x.batchPrompt(articles),
		Temperature: 0.1,
		MaxTokens:   4096,
	})
	var items []extractionItem
	if err == nil {
		items, err = parseItems(resp.Text)
	}
	if err != nil {
		logger.Warn("batch extraction failed, retrying articles individually",
			"batch_size", len(articles), "error", err.Error())
		for i := range articles {
			out[i] = x.extractOne(ctx, articles[i])
		}
		return
	}

	byIndex := make(map[int]extractionItem, len(items))
	for _, item := range items {
		byIndex[item.Index] = item
	}
	for i, a := range articles {
		item, ok := byIndex[i+1]
		if !ok {
			out[i] = x.extractOne(ctx, a)
			continue
		}
		ext, ferr := finalizeItem(item)
		out[i] = Result{ArticleID: a.ID, Extraction: ext, Err: ferr}
	}
}

// extractOne is the individual retry path.
func (x *Extractor) extractOne(ctx context.Context, a core.Article) Result {
	resp, err := x.llm.Invoke(ctx, llm.Request{
		Operation:   "extract_entities",
		System:      extractionSystem,
		Prompt:      x.batchPrompt([]core.Article{a}),
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		return Result{ArticleID: a.ID, Err: fmt.Errorf("failed to extract article %s: %w", a.ID, err)}
	}
	items, err := parseItems(resp.Text)
	if err != nil || len(items) == 0 {
		return Result{ArticleID: a.ID, Err: fmt.Errorf("failed to parse extraction for article %s: %w", a.ID, err)}
	}
	ext, ferr := finalizeItem(items[0])
	return Result{ArticleID: a.ID, Extraction: ext, Err: ferr}
}

const extractionSystem = `You extract structured data from cryptocurrency news articles. Respond with a strict JSON array, one object per article, no prose and no markdown fences.`

// batchPrompt numbers the articles so the response can be joined back by
// index even if the model reorders or drops items.
func (x *Extractor) batchPrompt(articles []core.Article) string {
	var sb strings.Builder
	sb.WriteString(`For each numbered article below, produce one JSON object:
{
  "index": <article number>,
  "entities": [{"name": "...", "type": "ticker|project|person|organization|event|concept", "confidence": 0.0-1.0}],
  "nucleus_entity": "the single entity this story is fundamentally about",
  "narrative_focus": "2-5 word phrase naming the storyline, e.g. 'etf approval speculation'",
  "top_actors": ["up to 5 entities ordered by importance to the story"],
  "key_actions": ["up to 3 short verb phrases"],
  "sentiment": "pos|neg|neu",
  "sentiment_score": -1.0 to 1.0
}
Return a JSON array with one object per article, in any order.

`)
	for i, a := range articles {
		fmt.Fprintf(&sb, "Article %d\nTitle: %s\n", i+1, a.Title)
		fmt.Fprintf(&sb, "Source: %s\n", a.Source)
		fmt.Fprintf(&sb, "Text: %s\n\n", truncateRunes(a.Body, x.truncate))
	}
	return sb.String()
}

type extractionItem struct {
	Index          int          `json:"index"`
	Entities       []entityItem `json:"entities"`
	NucleusEntity  string       `json:"nucleus_entity"`
	NarrativeFocus string       `json:"narrative_focus"`
	TopActors      []string     `json:"top_actors"`
	KeyActions     []string     `json:"key_actions"`
	Sentiment      string       `json:"sentiment"`
	SentimentScore float64      `json:"sentiment_score"`
}

type entityItem struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

func parseItems(text string) ([]extractionItem, error) {
	cleaned := llm.CleanJSON(text)
	var items []extractionItem
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		// Some models return a single object for a single article.
		var one extractionItem
		if err2 := json.Unmarshal([]byte(cleaned), &one); err2 == nil {
			if one.Index == 0 {
				one.Index = 1
			}
			return []extractionItem{one}, nil
		}
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return items, nil
}

// finalizeItem normalizes a parsed item into an Extraction and applies the
// degenerate check: no usable nucleus means the article goes down the rule
// path instead.
func finalizeItem(item extractionItem) (Extraction, error) {
	entities := make([]core.Entity, 0, len(item.Entities))
	for _, e := range item.Entities {
		entities = append(entities, NormalizeEntity(core.Entity{
			Name:       e.Name,
			Type:       parseEntityType(e.Type),
			Confidence: e.Confidence,
		}))
	}
	entities = DedupeEntities(entities)

	actors := NormalizeActors(item.TopActors)
	nucleus := NormalizeNucleus(item.NucleusEntity)
	if nucleus == "" && len(actors) > 0 {
		nucleus = actors[0]
	}

	ext := Extraction{
		Entities:       entities,
		NucleusEntity:  nucleus,
		NarrativeFocus: NormalizeFocus(item.NarrativeFocus),
		TopActors:      actors,
		KeyActions:     NormalizeActions(item.KeyActions),
		Sentiment:      parseSentiment(item.Sentiment),
		SentimentScore: clampScore(item.SentimentScore),
		Method:         core.ExtractionLLM,
	}
	if ext.SentimentScore == 0 {
		ext.SentimentScore = ext.Sentiment.Score() * 0.5
	}
	if ext.NucleusEntity == "" || len(ext.Entities) == 0 {
		return ext, ErrDegenerate
	}
	return ext, nil
}

func parseEntityType(t string) core.EntityType {
	switch core.EntityType(strings.ToLower(strings.TrimSpace(t))) {
	case core.EntityTicker:
		return core.EntityTicker
	case core.EntityProject:
		return core.EntityProject
	case core.EntityPerson:
		return core.EntityPerson
	case core.EntityOrganization:
		return core.EntityOrganization
	case core.EntityEvent:
		return core.EntityEvent
	}
	return core.EntityConcept
}

func parseSentiment(s string) core.Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pos", "positive", "bullish":
		return core.SentimentPositive
	case "neg", "negative", "bearish":
		return core.SentimentNegative
	}
	return core.SentimentNeutral
}

func clampScore(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncateRunes cuts at a rune boundary so the prompt never carries a split
// UTF-8 sequence.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
