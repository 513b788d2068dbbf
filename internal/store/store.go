// Package store wraps the MongoDB document store behind typed,
// collection-scoped methods. It is the single source of truth; nothing above
// it keeps authoritative state in memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"cryptopulse/internal/config"
	"cryptopulse/internal/logger"
)

// Collection names. The compound indexes in EnsureIndexes are load-bearing:
// the signal detector's per-entity queries assume entity_mentions(entity,
// timestamp) exists.
const (
	CollArticles         = "articles"
	CollNarratives       = "narratives"
	CollEntityMentions   = "entity_mentions"
	CollSignalsCache     = "signals_cache"
	CollBriefings        = "briefings"
	CollBriefingPatterns = "briefing_patterns"
	CollCostRecords      = "cost_records"
	CollLLMCache         = "llm_cache"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a versioned narrative update lost a concurrent
// write. Callers re-run the match and retry.
var ErrConflict = errors.New("store: concurrent update conflict")

// Store holds the Mongo client and database handle.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to the document store and pings it. The URI must already have
// passed config.ValidateMongoURI; the database name is taken from the URI path
// so the guard and the connection can never disagree.
func New(ctx context.Context, uri string) (*Store, error) {
	if err := config.ValidateMongoURI(uri); err != nil {
		return nil, err
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetMaxPoolSize(32))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("document store ping failed: %w", err)
	}

	return &Store{
		client: client,
		db:     client.Database(databaseFromURI(uri)),
	}, nil
}

// Close disconnects from the document store.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks connectivity for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the index set every writer depends on. Creation is
// idempotent; an existing identical index is a no-op.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		CollArticles: {
			{Keys: bson.D{{Key: "url", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "published_at", Value: -1}}},
			{Keys: bson.D{{Key: "narrative_id", Value: 1}, {Key: "published_at", Value: -1}}},
			{Keys: bson.D{{Key: "fingerprint", Value: 1}}},
		},
		CollNarratives: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "nucleus_entity", Value: 1}, {Key: "lifecycle_state", Value: 1}, {Key: "last_updated", Value: -1}}},
			{Keys: bson.D{{Key: "entities", Value: 1}}},
			{Keys: bson.D{{Key: "fingerprint.hash", Value: 1}}},
		},
		CollEntityMentions: {
			{Keys: bson.D{{Key: "entity", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "article_id", Value: 1}}},
		},
		CollBriefings: {
			{Keys: bson.D{{Key: "published", Value: 1}, {Key: "is_smoke", Value: 1}, {Key: "generated_at", Value: -1}}},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "generated_at", Value: -1}}},
		},
		CollCostRecords: {
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "model", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
		CollSignalsCache: {
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CollLLMCache: {
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		CollBriefingPatterns: {
			{Keys: bson.D{{Key: "detected_at", Value: -1}}},
		},
	}

	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to ensure indexes on %s: %w", coll, err)
		}
	}

	logger.Info("Document store indexes ensured", "collections", len(specs))
	return nil
}

// Counts returns document counts per collection for the status endpoint.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, coll := range []string{CollArticles, CollNarratives, CollEntityMentions, CollBriefings} {
		n, err := s.db.Collection(coll).CountDocuments(ctx, bson.M{})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", coll, err)
		}
		out[coll] = n
	}
	return out, nil
}

func databaseFromURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return config.DatabaseName
	}
	name := strings.TrimPrefix(parsed.Path, "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return config.DatabaseName
	}
	return name
}
