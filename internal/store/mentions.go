package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"cryptopulse/internal/core"
)

// InsertMentions appends a batch of entity mentions. Unordered so one bad
// document does not sink the batch.
func (s *Store) InsertMentions(ctx context.Context, mentions []core.EntityMention) error {
	if len(mentions) == 0 {
		return nil
	}
	docs := make([]interface{}, len(mentions))
	for i := range mentions {
		docs[i] = mentions[i]
	}
	_, err := s.db.Collection(CollEntityMentions).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to insert entity mentions: %w", err)
	}
	return nil
}

// MentionsForEntity returns one entity's mentions in the window, oldest first.
// This is the hot path behind signal scoring: it must stay a single-entity
// indexed query so sixteen of them can run side by side.
func (s *Store) MentionsForEntity(ctx context.Context, entity string, since time.Time) ([]core.EntityMention, error) {
	cur, err := s.db.Collection(CollEntityMentions).Find(ctx,
		bson.M{"entity": entity, "timestamp": bson.M{"$gte": since}},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query mentions for %q: %w", entity, err)
	}
	var out []core.EntityMention
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode mentions for %q: %w", entity, err)
	}
	return out, nil
}

// EntityActivity is an aggregation row: one entity and how often it was
// mentioned in the window.
type EntityActivity struct {
	Entity     string          `bson:"_id"`
	EntityType core.EntityType `bson:"entity_type"`
	Mentions   int             `bson:"mentions"`
}

// ActiveEntities returns the entities mentioned in the window with counts,
// busiest first. The signal detector fans out from this list.
func (s *Store) ActiveEntities(ctx context.Context, since time.Time, limit int) ([]EntityActivity, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"timestamp": bson.M{"$gte": since}}},
		{"$group": bson.M{
			"_id":         "$entity",
			"entity_type": bson.M{"$first": "$entity_type"},
			"mentions":    bson.M{"$sum": 1},
		}},
		{"$sort": bson.D{{Key: "mentions", Value: -1}, {Key: "_id", Value: 1}}},
		{"$limit": int64(limit)},
	}
	cur, err := s.db.Collection(CollEntityMentions).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate active entities: %w", err)
	}
	var out []EntityActivity
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode active entities: %w", err)
	}
	return out, nil
}
