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

// InsertNarrative writes a brand-new narrative document.
func (s *Store) InsertNarrative(ctx context.Context, n *core.Narrative) error {
	_, err := s.db.Collection(CollNarratives).InsertOne(ctx, n)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert narrative: %w", err)
	}
	return nil
}

// GetNarrative looks up a narrative by ID.
func (s *Store) GetNarrative(ctx context.Context, id string) (*core.Narrative, error) {
	var n core.Narrative
	err := s.db.Collection(CollNarratives).FindOne(ctx, bson.M{"id": id}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get narrative %s: %w", id, err)
	}
	return &n, nil
}

// ReplaceNarrative swaps in the updated document, but only if nobody else
// touched it since we loaded it. expectedLastUpdated is the last_updated value
// the caller read; a mismatch means a concurrent extend won the race and the
// caller must reload, re-match, and retry.
func (s *Store) ReplaceNarrative(ctx context.Context, n *core.Narrative, expectedLastUpdated time.Time) error {
	res, err := s.db.Collection(CollNarratives).ReplaceOne(ctx,
		bson.M{"id": n.ID, "last_updated": expectedLastUpdated}, n)
	if err != nil {
		return fmt.Errorf("failed to replace narrative %s: %w", n.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

// CandidatesByNucleus returns non-archived narratives sharing the nucleus
// entity with recent enough activity to be match candidates. Dormant
// narratives are included; the matcher applies the reactivation window itself.
// Sorted by last_article_at descending so ties resolve to the freshest.
func (s *Store) CandidatesByNucleus(ctx context.Context, nucleus string, since time.Time) ([]core.Narrative, error) {
	filter := bson.M{
		"nucleus_entity":  nucleus,
		"archived":        bson.M{"$ne": true},
		"last_article_at": bson.M{"$gte": since},
	}
	cur, err := s.db.Collection(CollNarratives).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "last_article_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate narratives: %w", err)
	}
	var out []core.Narrative
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode candidate narratives: %w", err)
	}
	return out, nil
}

// ActiveNarratives returns live narratives ranked by heat, where heat is
// velocity times article count. Backs the /narratives/active endpoint and the
// briefing snapshot.
func (s *Store) ActiveNarratives(ctx context.Context, limit int) ([]core.Narrative, error) {
	states := make([]string, 0, len(core.ActiveStates))
	for _, st := range core.ActiveStates {
		states = append(states, string(st))
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"lifecycle_state": bson.M{"$in": states},
			"archived":        bson.M{"$ne": true},
		}}},
		{{Key: "$addFields", Value: bson.M{
			"heat": bson.M{"$multiply": []interface{}{"$velocity", "$article_count"}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "heat", Value: -1}, {Key: "last_article_at", Value: -1}}}},
		{{Key: "$limit", Value: int64(limit)}},
		{{Key: "$unset", Value: "heat"}},
	}
	cur, err := s.db.Collection(CollNarratives).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to query active narratives: %w", err)
	}
	var out []core.Narrative
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode active narratives: %w", err)
	}
	return out, nil
}

// ArchivedNarratives returns the cold side of the ledger: dormant narratives
// plus consolidation losers, newest activity first.
func (s *Store) ArchivedNarratives(ctx context.Context, limit int) ([]core.Narrative, error) {
	filter := bson.M{"$or": []bson.M{
		{"lifecycle_state": string(core.StateDormant)},
		{"archived": true},
	}}
	cur, err := s.db.Collection(CollNarratives).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "last_article_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query archived narratives: %w", err)
	}
	var out []core.Narrative
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode archived narratives: %w", err)
	}
	return out, nil
}

// Resurrections returns narratives that have come back from dormancy at least
// once, most-resurrected first.
func (s *Store) Resurrections(ctx context.Context, limit int) ([]core.Narrative, error) {
	filter := bson.M{
		"reactivated_count": bson.M{"$gte": 1},
		"archived":          bson.M{"$ne": true},
	}
	cur, err := s.db.Collection(CollNarratives).Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "reactivated_count", Value: -1}, {Key: "last_article_at", Value: -1}}).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query resurrections: %w", err)
	}
	var out []core.Narrative
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode resurrections: %w", err)
	}
	return out, nil
}

// NarrativesMentioning returns linkable narratives whose entity union contains
// the given entity. Used for signal-to-narrative linkage, so cooling and
// dormant stories are excluded.
func (s *Store) NarrativesMentioning(ctx context.Context, entity string) ([]core.Narrative, error) {
	states := make([]string, 0, len(core.LinkableStates))
	for _, st := range core.LinkableStates {
		states = append(states, string(st))
	}
	filter := bson.M{
		"lifecycle_state": bson.M{"$in": states},
		"archived":        bson.M{"$ne": true},
		"$or": []bson.M{
			{"nucleus_entity": entity},
			{"entities": entity},
		},
	}
	cur, err := s.db.Collection(CollNarratives).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "last_article_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query narratives mentioning %q: %w", entity, err)
	}
	var out []core.Narrative
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode narratives mentioning %q: %w", entity, err)
	}
	return out, nil
}

// NarrativesForSweep streams every narrative the periodic lifecycle sweep must
// look at. Dormant ones are skipped since only a Reactivate decision can wake
// them, and archived ones are dead.
func (s *Store) NarrativesForSweep(ctx context.Context) ([]core.Narrative, error) {
	filter := bson.M{
		"lifecycle_state": bson.M{"$ne": string(core.StateDormant)},
		"archived":        bson.M{"$ne": true},
	}
	cur, err := s.db.Collection(CollNarratives).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep narratives: %w", err)
	}
	var out []core.Narrative
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode sweep narratives: %w", err)
	}
	return out, nil
}

// NarrativesForConsolidation returns all live (non-dormant, non-archived)
// narratives. The consolidator groups them by nucleus in memory; the working
// set is small enough that one query beats a nucleus-at-a-time loop.
func (s *Store) NarrativesForConsolidation(ctx context.Context) ([]core.Narrative, error) {
	return s.NarrativesForSweep(ctx)
}

// NarrativesWithoutFingerprint returns narratives missing a fingerprint hash,
// for the one-shot backfill. Narratives that already have one are never
// touched.
func (s *Store) NarrativesWithoutFingerprint(ctx context.Context) ([]core.Narrative, error) {
	filter := bson.M{"$or": []bson.M{
		{"fingerprint.hash": bson.M{"$exists": false}},
		{"fingerprint.hash": ""},
	}}
	cur, err := s.db.Collection(CollNarratives).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query narratives without fingerprint: %w", err)
	}
	var out []core.Narrative
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode narratives without fingerprint: %w", err)
	}
	return out, nil
}

// NarrativesWithoutFocus returns narratives created before narrative_focus
// existed, for the focus backfill.
func (s *Store) NarrativesWithoutFocus(ctx context.Context) ([]core.Narrative, error) {
	filter := bson.M{"$or": []bson.M{
		{"narrative_focus": bson.M{"$exists": false}},
		{"narrative_focus": ""},
	}}
	cur, err := s.db.Collection(CollNarratives).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query narratives without focus: %w", err)
	}
	var out []core.Narrative
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode narratives without focus: %w", err)
	}
	return out, nil
}

// SetNarrativeFingerprint writes a backfilled fingerprint without disturbing
// the rest of the document.
func (s *Store) SetNarrativeFingerprint(ctx context.Context, id string, fp core.NarrativeFingerprint) error {
	_, err := s.db.Collection(CollNarratives).UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"fingerprint": fp}})
	if err != nil {
		return fmt.Errorf("failed to set fingerprint on narrative %s: %w", id, err)
	}
	return nil
}

// SetNarrativeFocus writes a backfilled narrative_focus.
func (s *Store) SetNarrativeFocus(ctx context.Context, id, focus string) error {
	_, err := s.db.Collection(CollNarratives).UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"narrative_focus": focus}})
	if err != nil {
		return fmt.Errorf("failed to set focus on narrative %s: %w", id, err)
	}
	return nil
}

// ArchiveMerged marks the consolidation loser: archived, pointing at its
// survivor. The document stays put so old article references keep resolving.
func (s *Store) ArchiveMerged(ctx context.Context, loserID, winnerID string) error {
	_, err := s.db.Collection(CollNarratives).UpdateOne(ctx,
		bson.M{"id": loserID},
		bson.M{"$set": bson.M{
			"archived":     true,
			"merged_into":  winnerID,
			"last_updated": time.Now().UTC(),
		}})
	if err != nil {
		return fmt.Errorf("failed to archive narrative %s: %w", loserID, err)
	}
	return nil
}

// ReassignArticles re-points every article of a merged narrative at the
// survivor.
func (s *Store) ReassignArticles(ctx context.Context, fromNarrative, toNarrative string) (int64, error) {
	res, err := s.db.Collection(CollArticles).UpdateMany(ctx,
		bson.M{"narrative_id": fromNarrative},
		bson.M{"$set": bson.M{"narrative_id": toNarrative}})
	if err != nil {
		return 0, fmt.Errorf("failed to reassign articles from %s: %w", fromNarrative, err)
	}
	return res.ModifiedCount, nil
}
