package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptopulse/internal/cache"
	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/store"
)

// maxFanout caps how many entities one recompute scores. The busiest
// entities come first out of the aggregation, so the cap trims the long
// tail, not the leaders.
const maxFanout = 200

// Query selects and filters a trending computation. Its fields form the
// cache key, so two identical queries inside the TTL share one result.
type Query struct {
	Limit      int
	MinScore   float64
	EntityType core.EntityType
	Timeframe  string
}

// CacheKey is the canonical cache and snapshot key for this query.
func (q Query) CacheKey() string {
	return fmt.Sprintf("signals:limit=%d:min=%.2f:type=%s:tf=%s",
		q.Limit, q.MinScore, q.EntityType, q.Timeframe)
}

// Store is the slice of the persistence layer the detector reads. Queries
// must stay per-entity and indexed; the detector parallelizes them itself.
type Store interface {
	ActiveEntities(ctx context.Context, since time.Time, limit int) ([]store.EntityActivity, error)
	MentionsForEntity(ctx context.Context, entity string, since time.Time) ([]core.EntityMention, error)
	NarrativesMentioning(ctx context.Context, entity string) ([]core.Narrative, error)
	GetSignalSnapshot(ctx context.Context, key string) (*store.SignalSnapshot, error)
	PutSignalSnapshot(ctx context.Context, snap *store.SignalSnapshot) error
}

// Detector computes trending signals with bounded parallel fan-out and a
// two-layer cache in front. Both cache layers and the snapshot store are
// optional comfort: every failure path falls back to recomputing or to the
// last persisted snapshot.
type Detector struct {
	store       Store
	cache       *cache.Cache
	window      time.Duration
	timeframe   string
	concurrency int
	sharedTTL   time.Duration
	localTTL    time.Duration
	now         func() time.Time
}

// NewDetector wires a detector from signals config. The cache may be nil.
func NewDetector(st Store, c *cache.Cache, cfg config.Signals) *Detector {
	d := &Detector{
		store:       st,
		cache:       c,
		window:      config.Duration(cfg.Timeframe, 24*time.Hour),
		timeframe:   cfg.Timeframe,
		concurrency: cfg.Concurrency,
		sharedTTL:   config.Duration(cfg.SharedCacheTTL, 120*time.Second),
		localTTL:    config.Duration(cfg.LocalCacheTTL, 60*time.Second),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if d.timeframe == "" {
		d.timeframe = "24h"
	}
	if d.concurrency <= 0 {
		d.concurrency = 16
	}
	return d
}

// DefaultQuery is the query the periodic recompute task runs. Its snapshot
// doubles as the velocity EMA state between recomputes.
func (d *Detector) DefaultQuery() Query {
	return Query{Limit: 20, Timeframe: d.timeframe}
}

// Trending serves a signal list for the query: cache first, then a fresh
// compute, then the stale persisted snapshot if the compute fails.
func (d *Detector) Trending(ctx context.Context, q Query) ([]core.Signal, error) {
	key := q.CacheKey()
	if d.cache != nil {
		if data, ok := d.cache.Get(ctx, key, d.localTTL); ok {
			var sigs []core.Signal
			if err := json.Unmarshal(data, &sigs); err == nil {
				return sigs, nil
			}
			logger.Debug("dropping undecodable cached signals", "key", key)
		}
	}

	sigs, err := d.Compute(ctx, q)
	if err != nil {
		if snap, serr := d.store.GetSignalSnapshot(ctx, key); serr == nil {
			logger.Warn("signal compute failed, serving stale snapshot",
				"key", key, "age", d.now().Sub(snap.ComputedAt).String(), "error", err.Error())
			return snap.Signals, nil
		}
		return nil, err
	}

	d.storeResult(ctx, key, sigs)
	return sigs, nil
}

// Refresh recomputes the canonical query unconditionally, rewriting the cache
// and the persisted snapshot. The periodic recompute task calls this so
// interactive reads stay warm and the velocity EMA state advances.
func (d *Detector) Refresh(ctx context.Context) (int, error) {
	q := d.DefaultQuery()
	sigs, err := d.Compute(ctx, q)
	if err != nil {
		return 0, err
	}
	d.storeResult(ctx, q.CacheKey(), sigs)
	return len(sigs), nil
}

// storeResult writes a computed list through both cache layers and the
// snapshot store, best effort.
func (d *Detector) storeResult(ctx context.Context, key string, sigs []core.Signal) {
	if data, err := json.Marshal(sigs); err == nil && d.cache != nil {
		d.cache.Set(ctx, key, data, d.sharedTTL, d.localTTL)
	}
	if err := d.store.PutSignalSnapshot(ctx, &store.SignalSnapshot{
		Key:        key,
		Signals:    sigs,
		ComputedAt: d.now(),
	}); err != nil {
		logger.Warn("failed to persist signal snapshot", "key", key, "error", err.Error())
	}
}

// Compute scores every active entity in the window and returns the ranked,
// filtered list. Mention queries run per entity with bounded concurrency;
// a flat scan of the mention collection is exactly what this path exists
// to avoid.
func (d *Detector) Compute(ctx context.Context, q Query) ([]core.Signal, error) {
	now := d.now()
	window := config.Duration(q.Timeframe, d.window)
	since := now.Add(-window)

	entities, err := d.store.ActiveEntities(ctx, since, maxFanout)
	if err != nil {
		return nil, fmt.Errorf("failed to list active entities: %w", err)
	}
	if q.EntityType != "" {
		filtered := entities[:0]
		for _, e := range entities {
			if e.EntityType == q.EntityType {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}

	prev := d.previousVelocities(ctx)

	results := make([]*core.Signal, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, ent := range entities {
		g.Go(func() error {
			sig, err := d.scoreEntity(gctx, ent, since, window, now, prev)
			if err != nil {
				return err
			}
			results[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sigs := make([]core.Signal, 0, len(results))
	for _, s := range results {
		if s == nil || s.SignalScore < q.MinScore {
			continue
		}
		sigs = append(sigs, *s)
	}
	sort.Slice(sigs, func(i, j int) bool {
		if sigs[i].SignalScore != sigs[j].SignalScore {
			return sigs[i].SignalScore > sigs[j].SignalScore
		}
		return sigs[i].Entity < sigs[j].Entity
	})
	if q.Limit > 0 && len(sigs) > q.Limit {
		sigs = sigs[:q.Limit]
	}

	logger.Info("signals computed",
		"entities", len(entities), "returned", len(sigs),
		"window", window.String(), "took", time.Since(now).String())
	return sigs, nil
}

// scoreEntity builds one entity's signal from its mentions and narrative
// links.
func (d *Detector) scoreEntity(ctx context.Context, ent store.EntityActivity, since time.Time, window time.Duration, now time.Time, prev map[string]velocityState) (*core.Signal, error) {
	mentions, err := d.store.MentionsForEntity(ctx, ent.Entity, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load mentions for %q: %w", ent.Entity, err)
	}
	if len(mentions) == 0 {
		return nil, nil
	}

	sources := map[string]bool{}
	sentimentSum := 0.0
	newest := mentions[0].Timestamp
	for _, m := range mentions {
		if m.Source != "" {
			sources[m.Source] = true
		}
		sentimentSum += m.Sentiment
		if m.Timestamp.After(newest) {
			newest = m.Timestamp
		}
	}
	sentiment := sentimentSum / float64(len(mentions))

	raw := float64(len(mentions)) / window.Hours()
	velocity := raw
	if state, ok := prev[ent.Entity]; ok {
		velocity = SmoothVelocity(raw, state.velocity, now.Sub(state.at))
	}

	narratives, err := d.store.NarrativesMentioning(ctx, ent.Entity)
	if err != nil {
		return nil, fmt.Errorf("failed to link narratives for %q: %w", ent.Entity, err)
	}
	refs := make([]core.NarrativeRef, 0, len(narratives))
	for _, n := range narratives {
		refs = append(refs, core.NarrativeRef{ID: n.ID, Theme: n.Title})
	}

	emerging := len(mentions) < 3 && len(refs) == 0
	score := applyEmergingFloor(Score(ScoreInputs{
		Velocity:        velocity,
		DistinctSources: len(sources),
		TotalMentions:   len(mentions),
		NewestMention:   now.Sub(newest),
		Sentiment:       sentiment,
	}), emerging)

	return &core.Signal{
		Entity:      ent.Entity,
		EntityType:  ent.EntityType,
		SignalScore: score,
		Velocity:    velocity,
		SourceCount: len(sources),
		Sentiment:   sentiment,
		IsEmerging:  emerging,
		Narratives:  refs,
		LastUpdated: newest,
		ComputedAt:  now,
	}, nil
}

// velocityState is one entity's smoothed velocity carried over from the
// previous recompute.
type velocityState struct {
	velocity float64
	at       time.Time
}

// previousVelocities loads the EMA state from the canonical snapshot. A
// missing or unreadable snapshot means every entity starts from its raw
// rate, which is the correct cold-start behavior.
func (d *Detector) previousVelocities(ctx context.Context) map[string]velocityState {
	snap, err := d.store.GetSignalSnapshot(ctx, d.DefaultQuery().CacheKey())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Debug("failed to load velocity state", "error", err.Error())
		}
		return nil
	}
	prev := make(map[string]velocityState, len(snap.Signals))
	for _, s := range snap.Signals {
		prev[s.Entity] = velocityState{velocity: s.Velocity, at: snap.ComputedAt}
	}
	return prev
}
