package ingest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/logger"
)

const (
	defaultUserAgent   = "cryptopulse/1.0 (+https://github.com/cryptopulse/cryptopulse)"
	defaultFeedTimeout = 20 * time.Second
	defaultMaxItems    = 50
	fetchConcurrency   = 5
)

// Fetcher pulls items from every eligible source concurrently. Per-feed
// failures are recorded in the registry and never fail the whole pass.
type Fetcher struct {
	registry *Registry
	client   *http.Client
	ua       string
	maxItems int
	now      func() time.Time
}

// FetchStats counts what one pass did across all sources.
type FetchStats struct {
	Fetched     int `json:"fetched"`
	NotModified int `json:"not_modified"`
	Failed      int `json:"failed"`
	Items       int `json:"items"`
}

// NewFetcher wires a fetcher over the registry with ingest config applied.
func NewFetcher(registry *Registry, cfg config.Ingest) *Fetcher {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	maxItems := cfg.MaxItemsPerFeed
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	return &Fetcher{
		registry: registry,
		client:   &http.Client{Timeout: config.Duration(cfg.FeedTimeout, defaultFeedTimeout)},
		ua:       ua,
		maxItems: maxItems,
		now:      time.Now,
	}
}

// FetchAll fetches every eligible feed and returns the discovered items.
// Items are capped per feed, newest first as feeds present them.
func (f *Fetcher) FetchAll(ctx context.Context) ([]core.FeedItem, FetchStats) {
	feeds := f.registry.Eligible(f.now())
	if len(feeds) == 0 {
		logger.Warn("no eligible feed sources")
		return nil, FetchStats{}
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		stats FetchStats
		items []core.FeedItem
	)
	sem := make(chan struct{}, fetchConcurrency)

	for _, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(feed core.Feed) {
			defer wg.Done()
			defer func() { <-sem }()

			got, status := f.fetchOne(ctx, feed)

			mu.Lock()
			defer mu.Unlock()
			switch status {
			case fetchFailed:
				stats.Failed++
			case fetchNotModified:
				stats.NotModified++
			default:
				stats.Fetched++
				stats.Items += len(got)
				items = append(items, got...)
			}
		}(feed)
	}
	wg.Wait()

	logger.Info("feed fetch pass complete",
		"feeds", len(feeds),
		"fetched", stats.Fetched,
		"not_modified", stats.NotModified,
		"failed", stats.Failed,
		"items", stats.Items)
	return items, stats
}

type fetchStatus int

const (
	fetchOK fetchStatus = iota
	fetchNotModified
	fetchFailed
)

func (f *Fetcher) fetchOne(ctx context.Context, feed core.Feed) ([]core.FeedItem, fetchStatus) {
	parsed, err := fetchFeed(ctx, f.client, feed, f.ua)
	if err != nil {
		f.registry.RecordFailure(feed.ID, err, f.now())
		logger.Warn("feed fetch failed", "feed", feed.Name, "error", err.Error())
		return nil, fetchFailed
	}
	if parsed.NotModified {
		f.registry.RecordNotModified(feed.ID, f.now())
		logger.Debug("feed not modified", "feed", feed.Name)
		return nil, fetchNotModified
	}

	f.registry.RecordSuccess(feed.ID, parsed.ETag, parsed.LastModified, f.now())

	items := parsed.Items
	if len(items) > f.maxItems {
		items = items[:f.maxItems]
	}
	return items, fetchOK
}
