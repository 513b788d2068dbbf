package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"cryptopulse/internal/core"
)

// InsertCostRecord appends one row to the spend ledger.
func (s *Store) InsertCostRecord(ctx context.Context, r *core.CostRecord) error {
	_, err := s.db.Collection(CollCostRecords).InsertOne(ctx, r)
	if err != nil {
		return fmt.Errorf("failed to insert cost record: %w", err)
	}
	return nil
}

// CostWindowTotals sums spend and call counts over [from, to).
type CostWindowTotals struct {
	TotalCost   float64 `bson:"total_cost" json:"total_cost"`
	Calls       int     `bson:"calls" json:"calls"`
	CachedCalls int     `bson:"cached_calls" json:"cached_calls"`
	InputTokens int64   `bson:"input_tokens" json:"input_tokens"`
	OutputToks  int64   `bson:"output_tokens" json:"output_tokens"`
}

// CostTotals aggregates the ledger over a window.
func (s *Store) CostTotals(ctx context.Context, from, to time.Time) (*CostWindowTotals, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"timestamp": bson.M{"$gte": from, "$lt": to}}},
		{"$group": bson.M{
			"_id":           nil,
			"total_cost":    bson.M{"$sum": "$computed_cost"},
			"calls":         bson.M{"$sum": 1},
			"cached_calls":  bson.M{"$sum": bson.M{"$cond": []interface{}{"$cached", 1, 0}}},
			"input_tokens":  bson.M{"$sum": "$input_tokens"},
			"output_tokens": bson.M{"$sum": "$output_tokens"},
		}},
	}
	cur, err := s.db.Collection(CollCostRecords).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cost totals: %w", err)
	}
	var rows []CostWindowTotals
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode cost totals: %w", err)
	}
	if len(rows) == 0 {
		return &CostWindowTotals{}, nil
	}
	return &rows[0], nil
}

// DailyCost is one day's spend, keyed by UTC date string.
type DailyCost struct {
	Date        string  `bson:"_id" json:"date"` // YYYY-MM-DD
	TotalCost   float64 `bson:"total_cost" json:"total_cost"`
	Calls       int     `bson:"calls" json:"calls"`
	CachedCalls int     `bson:"cached_calls" json:"cached_calls"`
}

// DailyCosts buckets spend by UTC day over the trailing window, oldest first.
func (s *Store) DailyCosts(ctx context.Context, since time.Time) ([]DailyCost, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"timestamp": bson.M{"$gte": since}}},
		{"$group": bson.M{
			"_id":          bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$timestamp"}},
			"total_cost":   bson.M{"$sum": "$computed_cost"},
			"calls":        bson.M{"$sum": 1},
			"cached_calls": bson.M{"$sum": bson.M{"$cond": []interface{}{"$cached", 1, 0}}},
		}},
		{"$sort": bson.D{{Key: "_id", Value: 1}}},
	}
	cur, err := s.db.Collection(CollCostRecords).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily costs: %w", err)
	}
	var out []DailyCost
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode daily costs: %w", err)
	}
	return out, nil
}

// ModelCost is one model's share of spend.
type ModelCost struct {
	Model        string  `bson:"_id" json:"model"`
	TotalCost    float64 `bson:"total_cost" json:"total_cost"`
	Calls        int     `bson:"calls" json:"calls"`
	CachedCalls  int     `bson:"cached_calls" json:"cached_calls"`
	InputTokens  int64   `bson:"input_tokens" json:"input_tokens"`
	OutputTokens int64   `bson:"output_tokens" json:"output_tokens"`
}

// CostsByModel buckets spend by model over the trailing window, priciest
// first.
func (s *Store) CostsByModel(ctx context.Context, since time.Time) ([]ModelCost, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"timestamp": bson.M{"$gte": since}}},
		{"$group": bson.M{
			"_id":           "$model",
			"total_cost":    bson.M{"$sum": "$computed_cost"},
			"calls":         bson.M{"$sum": 1},
			"cached_calls":  bson.M{"$sum": bson.M{"$cond": []interface{}{"$cached", 1, 0}}},
			"input_tokens":  bson.M{"$sum": "$input_tokens"},
			"output_tokens": bson.M{"$sum": "$output_tokens"},
		}},
		{"$sort": bson.D{{Key: "total_cost", Value: -1}}},
	}
	cur, err := s.db.Collection(CollCostRecords).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate costs by model: %w", err)
	}
	var out []ModelCost
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode costs by model: %w", err)
	}
	return out, nil
}
