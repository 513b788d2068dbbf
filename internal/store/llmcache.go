package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// LLMCacheEntry is one cached prompt/response pair. Keyed by a content hash
// of (model, prompt, temperature, max_tokens).
type LLMCacheEntry struct {
	Key       string    `bson:"key" json:"key"`
	Model     string    `bson:"model" json:"model"`
	Response  string    `bson:"response" json:"response"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
}

// GetLLMCache returns a cached response if present and not expired.
func (s *Store) GetLLMCache(ctx context.Context, key string) (*LLMCacheEntry, error) {
	var e LLMCacheEntry
	err := s.db.Collection(CollLLMCache).FindOne(ctx, bson.M{
		"key":        key,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read llm cache: %w", err)
	}
	return &e, nil
}

// PutLLMCache upserts a cached response. Re-caching the same key refreshes
// the expiry.
func (s *Store) PutLLMCache(ctx context.Context, e *LLMCacheEntry) error {
	_, err := s.db.Collection(CollLLMCache).UpdateOne(ctx,
		bson.M{"key": e.Key},
		bson.M{"$set": e},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write llm cache: %w", err)
	}
	return nil
}

// DeleteExpiredLLMCache drops entries past their expiry and reports how many.
func (s *Store) DeleteExpiredLLMCache(ctx context.Context) (int64, error) {
	res, err := s.db.Collection(CollLLMCache).DeleteMany(ctx,
		bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired llm cache: %w", err)
	}
	return res.DeletedCount, nil
}

// LLMCacheStats summarizes the prompt cache for the admin endpoint.
type LLMCacheStats struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
}

// GetLLMCacheStats counts live and expired entries.
func (s *Store) GetLLMCacheStats(ctx context.Context) (*LLMCacheStats, error) {
	coll := s.db.Collection(CollLLMCache)
	total, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count llm cache: %w", err)
	}
	expired, err := coll.CountDocuments(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return nil, fmt.Errorf("failed to count expired llm cache: %w", err)
	}
	return &LLMCacheStats{Entries: total, Expired: expired}, nil
}
