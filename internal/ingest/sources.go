package ingest

import (
	"errors"
	"sort"
	"sync"
	"time"

	"cryptopulse/internal/core"
)

// Backoff after feed failures. Transient errors start small; a 429 or 403
// means the outlet is pushing back and we stay away much longer. Both double
// per consecutive failure so a dead feed cannot spin the fetch task forever.
const (
	errorBackoffBase    = 5 * time.Minute
	errorBackoffMax     = 6 * time.Hour
	throttleBackoffBase = 30 * time.Minute
	throttleBackoffMax  = 24 * time.Hour
	maxBackoffDoublings = 6
)

// Registry tracks feed sources and their fetch cursors (ETag, Last-Modified,
// consecutive error count). State is process-local: the unique article URL
// index makes a cold-start refetch idempotent, so losing cursors on restart
// costs bandwidth, not correctness.
type Registry struct {
	mu     sync.Mutex
	states map[string]*sourceState
	order  []string
}

type sourceState struct {
	feed        core.Feed
	nextAttempt time.Time
}

// NewRegistry builds a registry from the given feeds, or from the built-in
// crypto outlet set when none are given.
func NewRegistry(feeds []core.Feed) *Registry {
	if len(feeds) == 0 {
		feeds = DefaultFeeds()
	}
	r := &Registry{states: make(map[string]*sourceState, len(feeds))}
	for _, f := range feeds {
		if f.URL == "" {
			continue
		}
		if f.ID == "" {
			f.ID = FeedID(f.URL)
		}
		if _, ok := r.states[f.ID]; ok {
			continue
		}
		r.states[f.ID] = &sourceState{feed: f}
		r.order = append(r.order, f.ID)
	}
	return r
}

// DefaultFeeds is the built-in crypto outlet set used when no sources are
// configured.
func DefaultFeeds() []core.Feed {
	defs := []struct {
		name string
		url  string
	}{
		{"CoinDesk", "https://www.coindesk.com/arc/outboundfeeds/rss/"},
		{"Cointelegraph", "https://cointelegraph.com/rss"},
		{"The Block", "https://www.theblock.co/rss.xml"},
		{"Decrypt", "https://decrypt.co/feed"},
		{"Bitcoin Magazine", "https://bitcoinmagazine.com/feed"},
		{"CryptoSlate", "https://cryptoslate.com/feed"},
		{"Blockworks", "https://blockworks.co/feed"},
	}
	feeds := make([]core.Feed, 0, len(defs))
	for _, d := range defs {
		feeds = append(feeds, core.Feed{
			ID:     FeedID(d.url),
			Name:   d.name,
			URL:    d.url,
			Active: true,
		})
	}
	return feeds
}

// Eligible returns the active feeds whose backoff window has passed, in
// registration order.
func (r *Registry) Eligible(now time.Time) []core.Feed {
	r.mu.Lock()
	defer r.mu.Unlock()

	feeds := make([]core.Feed, 0, len(r.order))
	for _, id := range r.order {
		st := r.states[id]
		if !st.feed.Active {
			continue
		}
		if now.Before(st.nextAttempt) {
			continue
		}
		feeds = append(feeds, st.feed)
	}
	return feeds
}

// All returns a snapshot of every registered feed, active or not.
func (r *Registry) All() []core.Feed {
	r.mu.Lock()
	defer r.mu.Unlock()

	feeds := make([]core.Feed, 0, len(r.order))
	for _, id := range r.order {
		feeds = append(feeds, r.states[id].feed)
	}
	return feeds
}

// Add registers a feed. Re-adding an existing URL updates name and active
// flag but keeps the fetch cursor.
func (r *Registry) Add(feed core.Feed) {
	if feed.URL == "" {
		return
	}
	if feed.ID == "" {
		feed.ID = FeedID(feed.URL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.states[feed.ID]; ok {
		st.feed.Name = feed.Name
		st.feed.Active = feed.Active
		return
	}
	r.states[feed.ID] = &sourceState{feed: feed}
	r.order = append(r.order, feed.ID)
}

// SetActive toggles a feed and reports whether it exists.
func (r *Registry) SetActive(id string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return false
	}
	st.feed.Active = active
	return true
}

// RecordSuccess stores the new conditional-GET cursor and clears the error
// streak.
func (r *Registry) RecordSuccess(id, etag, lastModified string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return
	}
	st.feed.ETag = etag
	st.feed.LastModified = lastModified
	st.feed.LastFetched = now
	st.feed.ErrorCount = 0
	st.feed.LastError = ""
	st.nextAttempt = time.Time{}
}

// RecordNotModified marks a 304: the cursor still matches, the streak clears.
func (r *Registry) RecordNotModified(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return
	}
	st.feed.LastFetched = now
	st.feed.ErrorCount = 0
	st.feed.LastError = ""
	st.nextAttempt = time.Time{}
}

// RecordFailure bumps the error streak and schedules the next attempt with
// exponential backoff, using the harsher throttle curve for 429/403.
func (r *Registry) RecordFailure(id string, err error, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return
	}
	st.feed.ErrorCount++
	st.feed.LastError = err.Error()
	st.feed.LastFetched = now
	st.nextAttempt = now.Add(backoffDelay(st.feed.ErrorCount, isThrottle(err)))
}

func isThrottle(err error) bool {
	var he *httpError
	return errors.As(err, &he) && he.Throttled()
}

func backoffDelay(errorCount int, throttled bool) time.Duration {
	base, max := errorBackoffBase, errorBackoffMax
	if throttled {
		base, max = throttleBackoffBase, throttleBackoffMax
	}
	doublings := errorCount - 1
	if doublings > maxBackoffDoublings {
		doublings = maxBackoffDoublings
	}
	if doublings < 0 {
		doublings = 0
	}
	delay := base << uint(doublings)
	if delay > max {
		delay = max
	}
	return delay
}

// SourceStats summarizes registry health for the status endpoint and CLI.
type SourceStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Degraded int `json:"degraded"` // active feeds mid-backoff
}

func (r *Registry) Stats(now time.Time) SourceStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s SourceStats
	s.Total = len(r.order)
	for _, id := range r.order {
		st := r.states[id]
		if !st.feed.Active {
			continue
		}
		s.Active++
		if now.Before(st.nextAttempt) {
			s.Degraded++
		}
	}
	return s
}

// SortedByName returns feeds ordered by display name for rendering.
func SortedByName(feeds []core.Feed) []core.Feed {
	out := make([]core.Feed, len(feeds))
	copy(out, feeds)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
