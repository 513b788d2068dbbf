// Package briefing composes the periodic human-readable synthesis of the
// narrative and signal state. Composition is LLM-driven with a critique
// pass behind it: the model drafts, a second invocation audits the draft
// against the same inputs and revises, and the loop stops when the critique
// is confident or the iteration cap is hit.
package briefing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/llm"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/signals"
)

// ErrAlreadyGenerated means a production briefing of this type already
// exists for the current local day. Callers treat it as a no-op, not a
// failure.
var ErrAlreadyGenerated = errors.New("briefing: already generated for this period")

// Invoker is the LLM façade slice the generator needs.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// SignalSource supplies the current trending snapshot.
type SignalSource interface {
	Trending(ctx context.Context, q signals.Query) ([]core.Signal, error)
	DefaultQuery() signals.Query
}

// Store is the persistence slice the generator needs.
type Store interface {
	PatternStore
	CountBriefingsInWindow(ctx context.Context, bt core.BriefingType, from, to time.Time) (int, error)
	InsertBriefing(ctx context.Context, b *core.Briefing) error
	DeleteBriefingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Generator builds and persists briefings.
type Generator struct {
	store    Store
	signals  SignalSource
	llm      Invoker
	patterns *PatternDetector

	topN             int
	maxRefinements   int
	targetConfidence float64
	retention        time.Duration
	loc              *time.Location
	now              func() time.Time
}

// Options wires a Generator. Location defaults to UTC.
type Options struct {
	Store    Store
	Signals  SignalSource
	LLM      Invoker
	Config   config.Briefing
	Location *time.Location
}

// NewGenerator builds a generator with config defaults filled in.
func NewGenerator(opts Options) *Generator {
	g := &Generator{
		store:            opts.Store,
		signals:          opts.Signals,
		llm:              opts.LLM,
		patterns:         NewPatternDetector(opts.Store),
		topN:             opts.Config.TopNarratives,
		maxRefinements:   opts.Config.MaxRefinements,
		targetConfidence: opts.Config.TargetConfidence,
		retention:        time.Duration(opts.Config.RetentionDays) * 24 * time.Hour,
		loc:              opts.Location,
		now:              func() time.Time { return time.Now().UTC() },
	}
	if g.topN <= 0 {
		g.topN = 10
	}
	if g.maxRefinements <= 0 {
		g.maxRefinements = 2
	}
	if g.targetConfidence <= 0 {
		g.targetConfidence = 0.9
	}
	if g.retention <= 0 {
		g.retention = 30 * 24 * time.Hour
	}
	if g.loc == nil {
		g.loc = time.UTC
	}
	return g
}

// GenerateOptions select what kind of run this is.
type GenerateOptions struct {
	Type    core.BriefingType
	Force   bool
	IsSmoke bool
	TaskID  string
}

// draftPayload is the JSON shape the compose call returns.
type draftPayload struct {
	Narrative         string                `json:"narrative"`
	KeyInsights       []string              `json:"key_insights"`
	EntitiesMentioned []string              `json:"entities_mentioned"`
	DetectedPatterns  []string              `json:"detected_patterns"`
	Recommendations   []draftRecommendation `json:"recommendations"`
}

type draftRecommendation struct {
	Title              string `json:"title"`
	NarrativeTitleHint string `json:"narrative_title_hint"`
}

// refinementPayload is the JSON shape the critique call returns.
type refinementPayload struct {
	Confidence float64       `json:"confidence"`
	Issues     []string      `json:"issues"`
	Revised    *draftPayload `json:"revised"`
}

// Generate produces and persists one briefing. If all LLM attempts fail no
// document is written; the error propagates so the scheduler retries.
func (g *Generator) Generate(ctx context.Context, opts GenerateOptions) (*core.Briefing, error) {
	if !core.ValidBriefingType(string(opts.Type)) {
		return nil, fmt.Errorf("unknown briefing type %q", opts.Type)
	}

	now := g.now()
	if !opts.IsSmoke && !opts.Force {
		from, to := localDayBounds(now, g.loc)
		count, err := g.store.CountBriefingsInWindow(ctx, opts.Type, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to check briefing quota: %w", err)
		}
		if count > 0 {
			logger.Info("briefing already generated for this period, skipping",
				"type", string(opts.Type), "day", from.Format("2006-01-02"))
			return nil, ErrAlreadyGenerated
		}
	}

	narratives, err := g.store.ActiveNarratives(ctx, g.topN)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot narratives: %w", err)
	}

	sigs, err := g.signals.Trending(ctx, g.signals.DefaultQuery())
	if err != nil {
		logger.Warn("briefing proceeding without signals", "error", err.Error())
		sigs = nil
	}

	patterns, err := g.patterns.Detect(ctx)
	if err != nil {
		logger.Warn("briefing proceeding without patterns", "error", err.Error())
		patterns = nil
	}

	inputs := inputsBlock(narratives, sigs, patterns)

	draft, model, err := g.compose(ctx, opts.Type, inputs)
	if err != nil {
		return nil, err
	}

	confidence := 0.5
	iterations := 0
	for iterations < g.maxRefinements {
		ref, refModel, err := g.critique(ctx, inputs, draft)
		if err != nil {
			logger.Warn("critique pass failed, keeping current draft",
				"iteration", iterations+1, "error", err.Error())
			break
		}
		iterations++
		confidence = ref.Confidence
		if ref.Revised != nil && ref.Revised.Narrative != "" {
			draft = ref.Revised
			model = refModel
		}
		if len(ref.Issues) > 0 {
			logger.Debug("critique issues", "iteration", iterations, "issues", strings.Join(ref.Issues, "; "))
		}
		if confidence >= g.targetConfidence {
			break
		}
	}

	published := !opts.IsSmoke
	b := &core.Briefing{
		ID:          uuid.NewString(),
		Type:        opts.Type,
		GeneratedAt: now,
		Version:     1,
		Content: core.BriefingContent{
			Narrative:         draft.Narrative,
			KeyInsights:       draft.KeyInsights,
			EntitiesMentioned: draft.EntitiesMentioned,
			DetectedPatterns:  draft.DetectedPatterns,
			Recommendations:   linkRecommendations(draft.Recommendations, narratives),
		},
		Metadata: core.BriefingMetadata{
			Model:                model,
			Confidence:           confidence,
			SignalCount:          len(sigs),
			NarrativeCount:       len(narratives),
			PatternCount:         len(patterns),
			RefinementIterations: iterations,
		},
		IsSmoke:   opts.IsSmoke,
		Published: &published,
		TaskID:    opts.TaskID,
	}

	if err := g.store.InsertBriefing(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to persist briefing: %w", err)
	}
	logger.Info("briefing generated",
		"type", string(opts.Type), "id", b.ID, "model", model,
		"confidence", confidence, "iterations", iterations,
		"narratives", len(narratives), "signals", len(sigs), "smoke", opts.IsSmoke)
	return b, nil
}

// compose asks the quality chain for the first draft.
func (g *Generator) compose(ctx context.Context, bt core.BriefingType, inputs string) (*draftPayload, string, error) {
	resp, err := g.llm.Invoke(ctx, llm.Request{
		Operation:   "briefing_compose",
		System:      composeSystem,
		Prompt:      composePrompt(bt, inputs),
		Temperature: 0.7,
		MaxTokens:   4096,
		Quality:     true,
		NoCache:     true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to compose briefing: %w", err)
	}

	var draft draftPayload
	if err := json.Unmarshal([]byte(llm.CleanJSON(resp.Text)), &draft); err != nil {
		return nil, "", fmt.Errorf("failed to parse briefing draft: %w", err)
	}
	if strings.TrimSpace(draft.Narrative) == "" {
		return nil, "", fmt.Errorf("briefing draft came back empty")
	}
	return &draft, resp.Model, nil
}

// critique audits a draft against the inputs and optionally revises it.
func (g *Generator) critique(ctx context.Context, inputs string, draft *draftPayload) (*refinementPayload, string, error) {
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode draft for critique: %w", err)
	}

	resp, err := g.llm.Invoke(ctx, llm.Request{
		Operation:   "briefing_critique",
		System:      critiqueSystem,
		Prompt:      critiquePrompt(inputs, string(draftJSON)),
		Temperature: 0.2,
		MaxTokens:   4096,
		Quality:     true,
		NoCache:     true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to critique briefing: %w", err)
	}

	var ref refinementPayload
	if err := json.Unmarshal([]byte(llm.CleanJSON(resp.Text)), &ref); err != nil {
		return nil, "", fmt.Errorf("failed to parse critique: %w", err)
	}
	return &ref, resp.Model, nil
}

// Cleanup deletes briefings older than the retention window. The weekly
// cleanup task calls this.
func (g *Generator) Cleanup(ctx context.Context) (int64, error) {
	cutoff := g.now().Add(-g.retention)
	deleted, err := g.store.DeleteBriefingsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		logger.Info("old briefings cleaned up", "deleted", deleted, "cutoff", cutoff.Format("2006-01-02"))
	}
	return deleted, nil
}

// linkRecommendations resolves each recommendation's title hint to a
// narrative ID: exact normalized-title match first, then word overlap
// against the narrative's title and focus. Unresolvable hints leave the ID
// empty.
func linkRecommendations(recs []draftRecommendation, narratives []core.Narrative) []core.Recommendation {
	out := make([]core.Recommendation, 0, len(recs))
	for _, r := range recs {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		out = append(out, core.Recommendation{
			Title:       r.Title,
			NarrativeID: matchNarrative(r.NarrativeTitleHint, narratives),
		})
	}
	return out
}

// matchNarrative maps a title hint to a narrative ID, or "" when nothing
// clears the similarity bar.
func matchNarrative(hint string, narratives []core.Narrative) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}

	norm := normalizeTitle(hint)
	for i := range narratives {
		if normalizeTitle(narratives[i].Title) == norm {
			return narratives[i].ID
		}
	}

	hintWords := wordSet(hint)
	bestID := ""
	bestSim := 0.0
	for i := range narratives {
		sim := jaccardWords(hintWords, wordSet(narratives[i].Title))
		if fs := jaccardWords(hintWords, wordSet(narratives[i].NarrativeFocus)); fs > sim {
			sim = fs
		}
		if sim >= 0.7 && sim > bestSim {
			bestSim = sim
			bestID = narratives[i].ID
		}
	}
	return bestID
}

// normalizeTitle lowercases and strips everything but letters, digits, and
// single spaces so "Bitcoin: ETF Approval" and "bitcoin etf approval" meet.
func normalizeTitle(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(normalizeTitle(s)) {
		set[w] = true
	}
	return set
}

func jaccardWords(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// localDayBounds returns [midnight, next midnight) of the given instant in
// the configured timezone. Built from calendar components so DST days keep
// their real length.
func localDayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	to := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return from, to
}
