// Package core defines the domain types shared by every part of the pipeline:
// articles, narratives and their lifecycle, entity mentions, signals, briefings
// and cost records. Everything here persists to the document store, so fields
// carry both bson and json tags.
package core

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// LifecycleState tracks where a narrative sits in its life.
type LifecycleState string

const (
	StateEmerging    LifecycleState = "emerging"
	StateRising      LifecycleState = "rising"
	StateHot         LifecycleState = "hot"
	StateCooling     LifecycleState = "cooling"
	StateDormant     LifecycleState = "dormant"
	StateReactivated LifecycleState = "reactivated"
)

// Active reports whether the narrative can still accept articles through the
// matcher. Dormant narratives are only reachable via an explicit reactivation.
func (s LifecycleState) Active() bool {
	switch s {
	case StateEmerging, StateRising, StateHot, StateCooling, StateReactivated:
		return true
	}
	return false
}

// Linkable reports whether signals should surface this narrative.
func (s LifecycleState) Linkable() bool {
	switch s {
	case StateEmerging, StateRising, StateHot, StateReactivated:
		return true
	}
	return false
}

// ActiveStates and LinkableStates mirror Active and Linkable for building
// query filters.
var (
	ActiveStates   = []LifecycleState{StateEmerging, StateRising, StateHot, StateCooling, StateReactivated}
	LinkableStates = []LifecycleState{StateEmerging, StateRising, StateHot, StateReactivated}
)

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityTicker       EntityType = "ticker"
	EntityProject      EntityType = "project"
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityEvent        EntityType = "event"
	EntityConcept      EntityType = "concept"
)

// Sentiment is the coarse article-level label. Numeric scores live alongside
// it where arithmetic is needed (narrative averages, signal scoring).
type Sentiment string

const (
	SentimentPositive Sentiment = "pos"
	SentimentNegative Sentiment = "neg"
	SentimentNeutral  Sentiment = "neu"
)

// Score maps the label onto [-1,1] for averaging when no numeric score was
// extracted.
func (s Sentiment) Score() float64 {
	switch s {
	case SentimentPositive:
		return 1
	case SentimentNegative:
		return -1
	}
	return 0
}

// ExtractionMethod records how an article was enriched.
type ExtractionMethod string

const (
	ExtractionLLM  ExtractionMethod = "llm"
	ExtractionRule ExtractionMethod = "rule"
)

// Entity is one structured extraction result attached to an article.
type Entity struct {
	Name       string     `bson:"name" json:"name"`
	Type       EntityType `bson:"type" json:"type"`
	Confidence float64    `bson:"confidence" json:"confidence"` // [0,1]
}

// Article is an ingested news item. Immutable after enrichment except for the
// narrative_id backfill set by the lifecycle engine.
type Article struct {
	ID               string           `bson:"id" json:"id"`
	URL              string           `bson:"url" json:"url"` // unique index
	Source           string           `bson:"source" json:"source"`
	PublishedAt      time.Time        `bson:"published_at" json:"published_at"`
	Title            string           `bson:"title" json:"title"`
	Body             string           `bson:"body" json:"body"`
	Fingerprint      string           `bson:"fingerprint" json:"fingerprint"`       // sha256 of normalized title+body
	RelevanceTier    int              `bson:"relevance_tier" json:"relevance_tier"` // 1 high, 2 medium, 3 low
	Entities         []Entity         `bson:"entities" json:"entities"`
	Sentiment        Sentiment        `bson:"sentiment" json:"sentiment"`
	SentimentScore   float64          `bson:"sentiment_score" json:"sentiment_score"` // [-1,1]
	NarrativeID      string           `bson:"narrative_id,omitempty" json:"narrative_id,omitempty"`
	ExtractionMethod ExtractionMethod `bson:"extraction_method" json:"extraction_method"`
	NarrativeFocus   string           `bson:"narrative_focus,omitempty" json:"narrative_focus,omitempty"`
	NucleusEntity    string           `bson:"nucleus_entity,omitempty" json:"nucleus_entity,omitempty"`
	TopActors        []string         `bson:"top_actors,omitempty" json:"top_actors,omitempty"`
	KeyActions       []string         `bson:"key_actions,omitempty" json:"key_actions,omitempty"`
	CreatedAt        time.Time        `bson:"created_at" json:"created_at"`
}

// NarrativeFingerprint is the content-addressed identity of a narrative used by
// the matcher and the consolidation pass.
type NarrativeFingerprint struct {
	NucleusEntity  string    `bson:"nucleus_entity" json:"nucleus_entity"`
	NarrativeFocus string    `bson:"narrative_focus" json:"narrative_focus"` // 2-5 word phrase
	TopActors      []string  `bson:"top_actors" json:"top_actors"`           // <=5, salience desc
	KeyActions     []string  `bson:"key_actions" json:"key_actions"`         // <=3
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	Hash           string    `bson:"hash,omitempty" json:"hash,omitempty"`
}

// LifecycleEntry is one row of a narrative's state history.
type LifecycleEntry struct {
	State               LifecycleState `bson:"state" json:"state"`
	EnteredAt           time.Time      `bson:"entered_at" json:"entered_at"`
	ArticleCountAtEntry int            `bson:"article_count_at_entry" json:"article_count_at_entry"`
}

// TimelinePoint is a day bucket of narrative activity.
type TimelinePoint struct {
	Date         string  `bson:"date" json:"date"` // YYYY-MM-DD
	ArticleCount int     `bson:"article_count" json:"article_count"`
	Velocity     float64 `bson:"velocity" json:"velocity"`
}

// Narrative is a persistent cluster of articles about the same developing
// story. Mutated only by the lifecycle engine; archived instead of deleted
// while any article still references it.
type Narrative struct {
	ID               string               `bson:"id" json:"id"`
	Title            string               `bson:"title" json:"title"`
	Summary          string               `bson:"summary" json:"summary"`
	NucleusEntity    string               `bson:"nucleus_entity" json:"nucleus_entity"`
	NarrativeFocus   string               `bson:"narrative_focus,omitempty" json:"narrative_focus,omitempty"`
	TopActors        []string             `bson:"top_actors" json:"top_actors"`   // <=5, salience desc
	KeyActions       []string             `bson:"key_actions" json:"key_actions"` // <=3
	Entities         []string             `bson:"entities" json:"entities"`       // union over articles
	ArticleIDs       []string             `bson:"article_ids" json:"article_ids"` // deduped
	ArticleCount     int                  `bson:"article_count" json:"article_count"`
	FirstSeen        time.Time            `bson:"first_seen" json:"first_seen"`
	LastUpdated      time.Time            `bson:"last_updated" json:"last_updated"`
	LastArticleAt    time.Time            `bson:"last_article_at" json:"last_article_at"`
	LifecycleState   LifecycleState       `bson:"lifecycle_state" json:"lifecycle_state"`
	DormantSince     *time.Time           `bson:"dormant_since,omitempty" json:"dormant_since,omitempty"` // non-nil iff dormant
	ReactivatedCount int                  `bson:"reactivated_count" json:"reactivated_count"`
	LifecycleHistory []LifecycleEntry     `bson:"lifecycle_history" json:"lifecycle_history"`
	Fingerprint      NarrativeFingerprint `bson:"fingerprint" json:"fingerprint"`
	AvgSentiment     float64              `bson:"avg_sentiment" json:"avg_sentiment"` // [-1,1]
	Velocity         float64              `bson:"velocity" json:"velocity"`           // articles/day, EMA
	TimelineData     []TimelinePoint      `bson:"timeline_data" json:"timeline_data"`
	Archived         bool                 `bson:"archived,omitempty" json:"archived,omitempty"` // consolidation loser
	MergedInto       string               `bson:"merged_into,omitempty" json:"merged_into,omitempty"`
}

// HasArticle reports whether the article ID is already attached.
func (n *Narrative) HasArticle(id string) bool {
	for _, a := range n.ArticleIDs {
		if a == id {
			return true
		}
	}
	return false
}

// EntityMention is one (article, entity) occurrence, written at ingestion so
// the signal detector can run indexed per-entity queries instead of scanning
// articles.
type EntityMention struct {
	ID          string     `bson:"id" json:"id"`
	Entity      string     `bson:"entity" json:"entity"`
	EntityType  EntityType `bson:"entity_type" json:"entity_type"`
	ArticleID   string     `bson:"article_id" json:"article_id"`
	Source      string     `bson:"source" json:"source"`
	Timestamp   time.Time  `bson:"timestamp" json:"timestamp"`
	Sentiment   float64    `bson:"sentiment" json:"sentiment"` // [-1,1]
	NarrativeID string     `bson:"narrative_id,omitempty" json:"narrative_id,omitempty"`
}

// NarrativeRef links a signal to a narrative that mentions its entity.
type NarrativeRef struct {
	ID    string `bson:"id" json:"id"`
	Theme string `bson:"theme" json:"theme"`
}

// Signal is a derived trending-entity score. Recomputed periodically; never
// authoritative.
type Signal struct {
	Entity      string         `bson:"entity" json:"entity"`
	EntityType  EntityType     `bson:"entity_type" json:"entity_type"`
	SignalScore float64        `bson:"signal_score" json:"signal_score"` // [0,1]
	Velocity    float64        `bson:"velocity" json:"velocity"`         // mentions/hr over window
	SourceCount int            `bson:"source_count" json:"source_count"`
	Sentiment   float64        `bson:"sentiment" json:"sentiment"`
	IsEmerging  bool           `bson:"is_emerging" json:"is_emerging"`
	Narratives  []NarrativeRef `bson:"narratives" json:"narratives"`
	LastUpdated time.Time      `bson:"last_updated" json:"last_updated"`
	ComputedAt  time.Time      `bson:"computed_at" json:"computed_at"`
}

// BriefingType is the time-of-day slot a briefing belongs to.
type BriefingType string

const (
	BriefingMorning   BriefingType = "morning"
	BriefingAfternoon BriefingType = "afternoon"
	BriefingEvening   BriefingType = "evening"
)

// ValidBriefingType reports whether s names a known slot.
func ValidBriefingType(s string) bool {
	switch BriefingType(s) {
	case BriefingMorning, BriefingAfternoon, BriefingEvening:
		return true
	}
	return false
}

// Recommendation is one actionable item inside a briefing, optionally linked
// back to a narrative.
type Recommendation struct {
	Title       string `bson:"title" json:"title"`
	NarrativeID string `bson:"narrative_id,omitempty" json:"narrative_id,omitempty"`
}

// BriefingContent is the LLM-composed body of a briefing.
type BriefingContent struct {
	Narrative         string           `bson:"narrative" json:"narrative"`
	KeyInsights       []string         `bson:"key_insights" json:"key_insights"`
	EntitiesMentioned []string         `bson:"entities_mentioned" json:"entities_mentioned"`
	DetectedPatterns  []string         `bson:"detected_patterns" json:"detected_patterns"`
	Recommendations   []Recommendation `bson:"recommendations" json:"recommendations"`
}

// BriefingMetadata records how a briefing was produced.
type BriefingMetadata struct {
	Model                string  `bson:"model" json:"model"`
	Confidence           float64 `bson:"confidence" json:"confidence"`
	SignalCount          int     `bson:"signal_count" json:"signal_count"`
	NarrativeCount       int     `bson:"narrative_count" json:"narrative_count"`
	PatternCount         int     `bson:"pattern_count" json:"pattern_count"`
	RefinementIterations int     `bson:"refinement_iterations" json:"refinement_iterations"`
}

// Briefing is a periodic human-readable synthesis. Immutable once published.
// Published is a pointer because documents written before the flag existed must
// read as published.
type Briefing struct {
	ID          string           `bson:"id" json:"id"`
	Type        BriefingType     `bson:"type" json:"type"`
	GeneratedAt time.Time        `bson:"generated_at" json:"generated_at"`
	Version     int              `bson:"version" json:"version"`
	Content     BriefingContent  `bson:"content" json:"content"`
	Metadata    BriefingMetadata `bson:"metadata" json:"metadata"`
	IsSmoke     bool             `bson:"is_smoke" json:"is_smoke"`
	Published   *bool            `bson:"published,omitempty" json:"published"`
	TaskID      string           `bson:"task_id,omitempty" json:"task_id,omitempty"`
}

// IsPublished treats a missing flag as published for pre-flag documents.
func (b *Briefing) IsPublished() bool {
	return b.Published == nil || *b.Published
}

// PatternType classifies a cross-narrative observation.
type PatternType string

const (
	PatternResurrection        PatternType = "resurrection"
	PatternCrossNarrative      PatternType = "cross_narrative_entity"
	PatternSentimentDivergence PatternType = "sentiment_divergence"
)

// BriefingPattern is a persisted cross-narrative observation fed into briefing
// composition.
type BriefingPattern struct {
	ID           string      `bson:"id" json:"id"`
	Type         PatternType `bson:"type" json:"type"`
	Description  string      `bson:"description" json:"description"`
	Entities     []string    `bson:"entities" json:"entities"`
	NarrativeIDs []string    `bson:"narrative_ids" json:"narrative_ids"`
	Strength     float64     `bson:"strength" json:"strength"` // [0,1]
	DetectedAt   time.Time   `bson:"detected_at" json:"detected_at"`
}

// CostRecord is one row of the append-only LLM spend ledger.
type CostRecord struct {
	Model        string    `bson:"model" json:"model"`
	Operation    string    `bson:"operation" json:"operation"`
	InputTokens  int64     `bson:"input_tokens" json:"input_tokens"`
	OutputTokens int64     `bson:"output_tokens" json:"output_tokens"`
	Cached       bool      `bson:"cached" json:"cached"`
	Timestamp    time.Time `bson:"timestamp" json:"timestamp"`
	ComputedCost float64   `bson:"computed_cost" json:"computed_cost"` // USD
}

// Feed is one configured RSS/Atom source.
type Feed struct {
	ID           string    `bson:"id" json:"id"`
	Name         string    `bson:"name" json:"name"`
	URL          string    `bson:"url" json:"url"`
	Active       bool      `bson:"active" json:"active"`
	LastFetched  time.Time `bson:"last_fetched" json:"last_fetched"`
	LastModified string    `bson:"last_modified,omitempty" json:"last_modified,omitempty"` // Last-Modified header
	ETag         string    `bson:"etag,omitempty" json:"etag,omitempty"`
	ErrorCount   int       `bson:"error_count" json:"error_count"` // consecutive failures
	LastError    string    `bson:"last_error,omitempty" json:"last_error,omitempty"`
}

// FeedItem is one entry discovered in a feed, before it becomes an Article.
type FeedItem struct {
	FeedID      string    `json:"feed_id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	Published   time.Time `json:"published"`
	GUID        string    `json:"guid"`
	Source      string    `json:"source"`
}

// ComputeFingerprintHash derives the deterministic narrative fingerprint hash
// from the nucleus entity and the actor set. Actors are sorted first so
// salience reordering does not change identity.
func ComputeFingerprintHash(nucleus string, topActors []string) string {
	actors := make([]string, len(topActors))
	copy(actors, topActors)
	sort.Strings(actors)

	h := sha1.New()
	h.Write([]byte(nucleus))
	for _, a := range actors {
		h.Write([]byte("|"))
		h.Write([]byte(a))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeArticleFingerprint hashes the normalized title+body for duplicate
// detection across sources that republish the same wire story.
func ComputeArticleFingerprint(title, body string) string {
	normalized := strings.ToLower(strings.TrimSpace(title)) + "\n" + strings.ToLower(strings.TrimSpace(body))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// DayKey buckets a time into the YYYY-MM-DD key used by narrative timelines
// and the briefing per-day guard.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
