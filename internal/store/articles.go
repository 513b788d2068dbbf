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

// InsertArticle writes an article keyed on URL. The unique index makes this
// idempotent: re-ingesting the same URL is a no-op, never an overwrite, so an
// enriched article cannot be clobbered by a later fetch of the same story.
func (s *Store) InsertArticle(ctx context.Context, a *core.Article) (bool, error) {
	res, err := s.db.Collection(CollArticles).UpdateOne(ctx,
		bson.M{"url": a.URL},
		bson.M{"$setOnInsert": a},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert article: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

// GetArticle looks up an article by its opaque ID.
func (s *Store) GetArticle(ctx context.Context, id string) (*core.Article, error) {
	var a core.Article
	err := s.db.Collection(CollArticles).FindOne(ctx, bson.M{"id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article %s: %w", id, err)
	}
	return &a, nil
}

// ArticleURLExists reports whether an article with this URL is already stored.
func (s *Store) ArticleURLExists(ctx context.Context, url string) (bool, error) {
	n, err := s.db.Collection(CollArticles).CountDocuments(ctx, bson.M{"url": url}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check article url: %w", err)
	}
	return n > 0, nil
}

// ArticleFingerprintExists reports whether the content fingerprint is already
// stored, catching wire stories republished under a different URL.
func (s *Store) ArticleFingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.db.Collection(CollArticles).CountDocuments(ctx, bson.M{"fingerprint": fingerprint}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check article fingerprint: %w", err)
	}
	return n > 0, nil
}

// RecentArticles returns the newest articles by published time.
func (s *Store) RecentArticles(ctx context.Context, limit int) ([]core.Article, error) {
	cur, err := s.db.Collection(CollArticles).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "published_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to list recent articles: %w", err)
	}
	var out []core.Article
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode recent articles: %w", err)
	}
	return out, nil
}

// ArticlesByNarrative returns a page of a narrative's articles, newest first.
func (s *Store) ArticlesByNarrative(ctx context.Context, narrativeID string, offset, limit int) ([]core.Article, error) {
	cur, err := s.db.Collection(CollArticles).Find(ctx,
		bson.M{"narrative_id": narrativeID},
		options.Find().
			SetSort(bson.D{{Key: "published_at", Value: -1}}).
			SetSkip(int64(offset)).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to list narrative articles: %w", err)
	}
	var out []core.Article
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode narrative articles: %w", err)
	}
	return out, nil
}

// ArticlesByIDs fetches a batch of articles by ID. Missing IDs are skipped.
func (s *Store) ArticlesByIDs(ctx context.Context, ids []string) ([]core.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.db.Collection(CollArticles).Find(ctx, bson.M{"id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch articles by id: %w", err)
	}
	var out []core.Article
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode articles by id: %w", err)
	}
	return out, nil
}

// UnassignedArticles returns LLM-enriched articles that have not joined a
// narrative yet. Rule-enriched articles are excluded: they never seed or join
// narratives on rule data alone.
func (s *Store) UnassignedArticles(ctx context.Context, since time.Time, limit int) ([]core.Article, error) {
	filter := bson.M{
		"narrative_id":      bson.M{"$in": []interface{}{nil, ""}},
		"extraction_method": core.ExtractionLLM,
		"published_at":      bson.M{"$gte": since},
	}
	cur, err := s.db.Collection(CollArticles).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "published_at", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned articles: %w", err)
	}
	var out []core.Article
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode unassigned articles: %w", err)
	}
	return out, nil
}

// SetArticleNarrative backfills the narrative reference on an article. This is
// the only mutation an article receives after enrichment.
func (s *Store) SetArticleNarrative(ctx context.Context, articleID, narrativeID string) error {
	_, err := s.db.Collection(CollArticles).UpdateOne(ctx,
		bson.M{"id": articleID},
		bson.M{"$set": bson.M{"narrative_id": narrativeID}})
	if err != nil {
		return fmt.Errorf("failed to set narrative on article %s: %w", articleID, err)
	}
	return nil
}

// CountNarrativeArticlesSince counts a narrative's articles published after
// the cutoff. Backed by the (narrative_id, published_at) index; the lifecycle
// sweep calls this per narrative.
func (s *Store) CountNarrativeArticlesSince(ctx context.Context, narrativeID string, since time.Time) (int, error) {
	n, err := s.db.Collection(CollArticles).CountDocuments(ctx, bson.M{
		"narrative_id": narrativeID,
		"published_at": bson.M{"$gte": since},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count narrative articles: %w", err)
	}
	return int(n), nil
}
