package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"cryptopulse/internal/core"
)

// productionBriefingFilter hides smoke-test runs and explicitly-unpublished
// briefings. Documents written before the published flag existed have no
// field at all and must still be served, hence $ne instead of $eq.
func productionBriefingFilter() bson.M {
	return bson.M{
		"is_smoke":  bson.M{"$ne": true},
		"published": bson.M{"$ne": false},
	}
}

// InsertBriefing appends a briefing. Briefings are immutable once written.
func (s *Store) InsertBriefing(ctx context.Context, b *core.Briefing) error {
	_, err := s.db.Collection(CollBriefings).InsertOne(ctx, b)
	if err != nil {
		return fmt.Errorf("failed to insert briefing: %w", err)
	}
	return nil
}

// GetBriefing looks up a briefing by ID, smoke or not. Admin surface only.
func (s *Store) GetBriefing(ctx context.Context, id string) (*core.Briefing, error) {
	var b core.Briefing
	err := s.db.Collection(CollBriefings).FindOne(ctx, bson.M{"id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get briefing %s: %w", id, err)
	}
	return &b, nil
}

// LatestBriefing returns the newest production briefing of any type.
func (s *Store) LatestBriefing(ctx context.Context) (*core.Briefing, error) {
	return s.latestMatching(ctx, productionBriefingFilter())
}

// LatestBriefingByType returns the newest production briefing for one slot.
func (s *Store) LatestBriefingByType(ctx context.Context, bt core.BriefingType) (*core.Briefing, error) {
	filter := productionBriefingFilter()
	filter["type"] = string(bt)
	return s.latestMatching(ctx, filter)
}

// BriefingByTypeAndWindow returns the newest production briefing of a type
// generated inside [from, to). Backs the ?date= lookups.
func (s *Store) BriefingByTypeAndWindow(ctx context.Context, bt core.BriefingType, from, to time.Time) (*core.Briefing, error) {
	filter := productionBriefingFilter()
	filter["type"] = string(bt)
	filter["generated_at"] = bson.M{"$gte": from, "$lt": to}
	return s.latestMatching(ctx, filter)
}

func (s *Store) latestMatching(ctx context.Context, filter bson.M) (*core.Briefing, error) {
	var b core.Briefing
	err := s.db.Collection(CollBriefings).FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "generated_at", Value: -1}})).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest briefing: %w", err)
	}
	return &b, nil
}

// CountBriefingsInWindow counts non-smoke briefings of a type generated in
// [from, to). The at-most-one-per-day guard calls this with the local day
// bounds; smoke runs never count against the quota.
func (s *Store) CountBriefingsInWindow(ctx context.Context, bt core.BriefingType, from, to time.Time) (int, error) {
	n, err := s.db.Collection(CollBriefings).CountDocuments(ctx, bson.M{
		"type":         string(bt),
		"is_smoke":     bson.M{"$ne": true},
		"generated_at": bson.M{"$gte": from, "$lt": to},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count briefings in window: %w", err)
	}
	return int(n), nil
}

// DeleteBriefingsBefore removes briefings older than the cutoff and returns
// how many went.
func (s *Store) DeleteBriefingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Collection(CollBriefings).DeleteMany(ctx,
		bson.M{"generated_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old briefings: %w", err)
	}
	return res.DeletedCount, nil
}

// InsertPattern records a detected cross-narrative pattern.
func (s *Store) InsertPattern(ctx context.Context, p *core.BriefingPattern) error {
	_, err := s.db.Collection(CollBriefingPatterns).InsertOne(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to insert briefing pattern: %w", err)
	}
	return nil
}

// RecentPatterns returns patterns detected since the cutoff, newest first.
func (s *Store) RecentPatterns(ctx context.Context, since time.Time, limit int) ([]core.BriefingPattern, error) {
	cur, err := s.db.Collection(CollBriefingPatterns).Find(ctx,
		bson.M{"detected_at": bson.M{"$gte": since}},
		options.Find().SetSort(bson.D{{Key: "detected_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query recent patterns: %w", err)
	}
	var out []core.BriefingPattern
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode recent patterns: %w", err)
	}
	return out, nil
}
