package ingest

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"cryptopulse/internal/core"
)

func registryWith(urls ...string) *Registry {
	feeds := make([]core.Feed, 0, len(urls))
	for i, u := range urls {
		feeds = append(feeds, core.Feed{Name: string(rune('A' + i)), URL: u, Active: true})
	}
	return NewRegistry(feeds)
}

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry(nil)
	feeds := r.All()
	if len(feeds) == 0 {
		t.Fatal("default registry is empty")
	}
	for _, f := range feeds {
		if !f.Active {
			t.Errorf("default feed %s not active", f.Name)
		}
		if f.ID != FeedID(f.URL) {
			t.Errorf("feed %s ID not derived from URL", f.Name)
		}
	}
	if got := len(r.Eligible(time.Now())); got != len(feeds) {
		t.Errorf("Eligible = %d, want all %d", got, len(feeds))
	}
}

func TestRegistryBackoffAfterFailure(t *testing.T) {
	r := registryWith("https://example.com/a")
	id := FeedID("https://example.com/a")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	r.RecordFailure(id, errors.New("connection refused"), now)
	if len(r.Eligible(now.Add(time.Minute))) != 0 {
		t.Error("feed eligible during backoff window")
	}
	if len(r.Eligible(now.Add(5*time.Minute))) != 1 {
		t.Error("feed not eligible after first backoff expires")
	}

	// Second consecutive failure doubles the delay.
	r.RecordFailure(id, errors.New("connection refused"), now)
	if len(r.Eligible(now.Add(6*time.Minute))) != 0 {
		t.Error("second failure should back off longer than the first")
	}
	if len(r.Eligible(now.Add(10*time.Minute))) != 1 {
		t.Error("feed not eligible after doubled backoff")
	}

	feed := r.All()[0]
	if feed.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", feed.ErrorCount)
	}
	if feed.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestRegistryThrottleBacksOffHarder(t *testing.T) {
	r := registryWith("https://example.com/a")
	id := FeedID("https://example.com/a")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	r.RecordFailure(id, &httpError{Status: http.StatusTooManyRequests, URL: "https://example.com/a"}, now)
	if len(r.Eligible(now.Add(15*time.Minute))) != 0 {
		t.Error("throttled feed eligible before throttle backoff expires")
	}
	if len(r.Eligible(now.Add(30*time.Minute))) != 1 {
		t.Error("throttled feed not eligible after 30m")
	}
}

func TestRegistryBackoffIsCapped(t *testing.T) {
	r := registryWith("https://example.com/a")
	id := FeedID("https://example.com/a")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		r.RecordFailure(id, errors.New("down"), now)
	}
	if len(r.Eligible(now.Add(errorBackoffMax))) != 1 {
		t.Error("backoff exceeded its cap")
	}
}

func TestRegistrySuccessClearsStreak(t *testing.T) {
	r := registryWith("https://example.com/a")
	id := FeedID("https://example.com/a")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	r.RecordFailure(id, errors.New("down"), now)
	r.RecordSuccess(id, `"v2"`, "Tue, 10 Mar 2026 08:00:00 GMT", now.Add(time.Minute))

	feed := r.All()[0]
	if feed.ErrorCount != 0 || feed.LastError != "" {
		t.Errorf("streak not cleared: count=%d err=%q", feed.ErrorCount, feed.LastError)
	}
	if feed.ETag != `"v2"` || feed.LastModified == "" {
		t.Errorf("cursor not stored: etag=%q modified=%q", feed.ETag, feed.LastModified)
	}
	if len(r.Eligible(now.Add(time.Minute))) != 1 {
		t.Error("feed should be eligible immediately after success")
	}
}

func TestRegistryNotModifiedClearsStreak(t *testing.T) {
	r := registryWith("https://example.com/a")
	id := FeedID("https://example.com/a")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	r.RecordFailure(id, errors.New("down"), now)
	r.RecordNotModified(id, now.Add(5*time.Minute))

	feed := r.All()[0]
	if feed.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d after 304", feed.ErrorCount)
	}
	if !feed.LastFetched.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("LastFetched = %v", feed.LastFetched)
	}
}

func TestRegistrySetActive(t *testing.T) {
	r := registryWith("https://example.com/a", "https://example.com/b")
	id := FeedID("https://example.com/b")

	if !r.SetActive(id, false) {
		t.Fatal("SetActive reported unknown feed")
	}
	if got := len(r.Eligible(time.Now())); got != 1 {
		t.Errorf("Eligible = %d after disabling one of two", got)
	}
	if r.SetActive("nope", false) {
		t.Error("SetActive should report missing feed")
	}

	stats := r.Stats(time.Now())
	if stats.Total != 2 || stats.Active != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestRegistryAddKeepsCursor(t *testing.T) {
	r := registryWith("https://example.com/a")
	id := FeedID("https://example.com/a")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	r.RecordSuccess(id, `"v1"`, "", now)

	r.Add(core.Feed{Name: "Renamed", URL: "https://example.com/a", Active: true})

	feed := r.All()[0]
	if feed.Name != "Renamed" {
		t.Errorf("Name = %q", feed.Name)
	}
	if feed.ETag != `"v1"` {
		t.Error("re-adding dropped the fetch cursor")
	}

	r.Add(core.Feed{Name: "New", URL: "https://example.com/c", Active: true})
	if len(r.All()) != 2 {
		t.Errorf("len = %d after adding new feed", len(r.All()))
	}
}
