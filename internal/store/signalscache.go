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

// SignalSnapshot is one persisted result of a signal recompute, keyed by the
// query parameters that produced it. The periodic task writes the default
// snapshot; ad-hoc queries write theirs so a worker restart does not start
// cold.
type SignalSnapshot struct {
	Key        string        `bson:"key" json:"key"`
	Signals    []core.Signal `bson:"signals" json:"signals"`
	ComputedAt time.Time     `bson:"computed_at" json:"computed_at"`
}

// PutSignalSnapshot upserts a snapshot for a query key.
func (s *Store) PutSignalSnapshot(ctx context.Context, snap *SignalSnapshot) error {
	_, err := s.db.Collection(CollSignalsCache).UpdateOne(ctx,
		bson.M{"key": snap.Key},
		bson.M{"$set": snap},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write signal snapshot: %w", err)
	}
	return nil
}

// GetSignalSnapshot returns the stored snapshot for a query key, however old.
// Callers decide whether it is fresh enough to serve.
func (s *Store) GetSignalSnapshot(ctx context.Context, key string) (*SignalSnapshot, error) {
	var snap SignalSnapshot
	err := s.db.Collection(CollSignalsCache).FindOne(ctx, bson.M{"key": key}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read signal snapshot: %w", err)
	}
	return &snap, nil
}
