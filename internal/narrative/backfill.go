package narrative

import (
	"context"
	"fmt"
	"time"

	"cryptopulse/internal/core"
	"cryptopulse/internal/logger"
)

// BackfillStore is the slice of the store the one-shot backfills need.
type BackfillStore interface {
	NarrativesWithoutFingerprint(ctx context.Context) ([]core.Narrative, error)
	NarrativesWithoutFocus(ctx context.Context) ([]core.Narrative, error)
	SetNarrativeFingerprint(ctx context.Context, id string, fp core.NarrativeFingerprint) error
	SetNarrativeFocus(ctx context.Context, id, focus string) error
	ArticlesByIDs(ctx context.Context, ids []string) ([]core.Article, error)
}

// Backfiller runs the one-shot migrations for narratives written before
// fingerprints and focus phrases existed. Both passes only touch documents
// missing the field, so re-running is always safe.
type Backfiller struct {
	store BackfillStore
	now   func() time.Time
}

func NewBackfiller(st BackfillStore) *Backfiller {
	return &Backfiller{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Fingerprints stamps a fingerprint hash on every narrative lacking one,
// derived from the current nucleus entity and actor set.
func (b *Backfiller) Fingerprints(ctx context.Context, dryRun bool) (int, error) {
	narratives, err := b.store.NarrativesWithoutFingerprint(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load narratives without fingerprint: %w", err)
	}

	updated := 0
	for _, n := range narratives {
		fp := core.NarrativeFingerprint{
			NucleusEntity:  n.NucleusEntity,
			NarrativeFocus: n.NarrativeFocus,
			TopActors:      n.TopActors,
			KeyActions:     n.KeyActions,
			Timestamp:      b.now(),
			Hash:           core.ComputeFingerprintHash(n.NucleusEntity, n.TopActors),
		}
		logger.Info("fingerprint backfill",
			"narrative_id", n.ID, "nucleus", n.NucleusEntity, "hash", fp.Hash, "dry_run", dryRun)
		if dryRun {
			updated++
			continue
		}
		if err := b.store.SetNarrativeFingerprint(ctx, n.ID, fp); err != nil {
			return updated, fmt.Errorf("failed to set fingerprint on %s: %w", n.ID, err)
		}
		updated++
	}
	return updated, nil
}

// Focus derives a narrative_focus for narratives missing one from the most
// recent attached article that carries a focus phrase. Narratives whose
// articles were all rule-extracted stay without focus; the matcher treats
// that as neutral.
func (b *Backfiller) Focus(ctx context.Context, dryRun bool) (int, error) {
	narratives, err := b.store.NarrativesWithoutFocus(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load narratives without focus: %w", err)
	}

	updated := 0
	for _, n := range narratives {
		articles, err := b.store.ArticlesByIDs(ctx, n.ArticleIDs)
		if err != nil {
			return updated, fmt.Errorf("failed to load articles for %s: %w", n.ID, err)
		}

		focus := ""
		var newest time.Time
		for _, a := range articles {
			if a.NarrativeFocus == "" {
				continue
			}
			if focus == "" || a.PublishedAt.After(newest) {
				focus = a.NarrativeFocus
				newest = a.PublishedAt
			}
		}
		if focus == "" {
			logger.Debug("focus backfill found no candidate", "narrative_id", n.ID)
			continue
		}

		logger.Info("focus backfill", "narrative_id", n.ID, "focus", focus, "dry_run", dryRun)
		if dryRun {
			updated++
			continue
		}
		if err := b.store.SetNarrativeFocus(ctx, n.ID, focus); err != nil {
			return updated, fmt.Errorf("failed to set focus on %s: %w", n.ID, err)
		}
		updated++
	}
	return updated, nil
}
