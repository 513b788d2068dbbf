// Package ingest turns configured RSS/Atom sources into enriched, deduplicated
// articles and their entity mention rows. The pipeline is fetch, dedupe,
// classify, enrich, persist; the LLM extractor sits behind a global rate
// limiter so a burst of feed activity cannot burn the API budget.
package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"cryptopulse/internal/core"
)

// Feeds larger than this are truncated before parsing. Real crypto outlet
// feeds are well under 1 MB.
const maxFeedBytes = 10 << 20

// ParsedFeed is the outcome of one conditional fetch.
type ParsedFeed struct {
	Title        string
	Items        []core.FeedItem
	ETag         string
	LastModified string
	NotModified  bool
}

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

type atomDoc struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	ID        string     `xml:"id"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
}

// fetchFeed does one conditional GET against the feed URL. A 304 comes back as
// NotModified with no items; anything else non-2xx is an httpError so the
// registry can apply throttle-aware backoff.
func fetchFeed(ctx context.Context, client *http.Client, feed core.Feed, userAgent string) (*ParsedFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &ParsedFeed{NotModified: true, ETag: feed.ETag, LastModified: feed.LastModified}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{Status: resp.StatusCode, URL: feed.URL}
	}

	// Read the body once so both decoders can try it. The XML decoder consumes
	// its reader, which otherwise forces a second network round trip for Atom.
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	parsed, err := parseFeed(data, feed)
	if err != nil {
		return nil, err
	}
	parsed.ETag = resp.Header.Get("ETag")
	parsed.LastModified = resp.Header.Get("Last-Modified")
	return parsed, nil
}

// httpError is a non-success feed response. ErrorCount-based backoff treats
// 429 and 403 as throttling and backs off much harder.
type httpError struct {
	Status int
	URL    string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("feed %s returned status %d", e.URL, e.Status)
}

// Throttled reports whether the response indicates rate limiting or blocking
// rather than a transient failure.
func (e *httpError) Throttled() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusForbidden
}

// parseFeed tries RSS first, then Atom. The decoder rejects a mismatched root
// element, so the wrong format fails fast without false positives.
func parseFeed(data []byte, feed core.Feed) (*ParsedFeed, error) {
	var rss rssDoc
	if err := xml.Unmarshal(data, &rss); err == nil {
		return parseRSS(rss, feed), nil
	}

	var atom atomDoc
	if err := xml.Unmarshal(data, &atom); err == nil {
		return parseAtom(atom, feed), nil
	}

	return nil, fmt.Errorf("failed to parse feed %s as RSS or Atom", feed.URL)
}

func parseRSS(doc rssDoc, feed core.Feed) *ParsedFeed {
	parsed := &ParsedFeed{
		Title: strings.TrimSpace(doc.Channel.Title),
		Items: make([]core.FeedItem, 0, len(doc.Channel.Items)),
	}
	for _, item := range doc.Channel.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		// content:encoded carries the full article body when present; the
		// plain description is usually a teaser.
		body := item.Content
		if strings.TrimSpace(body) == "" {
			body = item.Description
		}
		guid := strings.TrimSpace(item.GUID)
		if guid == "" {
			guid = link
		}
		parsed.Items = append(parsed.Items, core.FeedItem{
			FeedID:      feed.ID,
			Title:       strings.TrimSpace(item.Title),
			Link:        link,
			Description: body,
			Published:   parseRSSDate(item.PubDate),
			GUID:        guid,
			Source:      sourceName(feed, parsed.Title),
		})
	}
	return parsed
}

func parseAtom(doc atomDoc, feed core.Feed) *ParsedFeed {
	parsed := &ParsedFeed{
		Title: strings.TrimSpace(doc.Title),
		Items: make([]core.FeedItem, 0, len(doc.Entries)),
	}
	for _, entry := range doc.Entries {
		link := atomEntryLink(entry)
		if link == "" {
			continue
		}
		body := entry.Content
		if strings.TrimSpace(body) == "" {
			body = entry.Summary
		}
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}
		guid := strings.TrimSpace(entry.ID)
		if guid == "" {
			guid = link
		}
		parsed.Items = append(parsed.Items, core.FeedItem{
			FeedID:      feed.ID,
			Title:       strings.TrimSpace(entry.Title),
			Link:        link,
			Description: body,
			Published:   parseAtomDate(published),
			GUID:        guid,
			Source:      sourceName(feed, parsed.Title),
		})
	}
	return parsed
}

// atomEntryLink picks the alternate link, which most feeds mark either
// explicitly or by omitting rel entirely.
func atomEntryLink(entry atomEntry) string {
	for _, l := range entry.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(entry.Links) > 0 {
		return strings.TrimSpace(entry.Links[0].Href)
	}
	return ""
}

func sourceName(feed core.Feed, channelTitle string) string {
	if feed.Name != "" {
		return feed.Name
	}
	if channelTitle != "" {
		return channelTitle
	}
	return feed.URL
}

// rssDateFormats covers the pubDate variants crypto outlets actually emit.
// RFC 1123 with numeric zones dominates, but single-digit days and bare RFC
// 3339 both show up in the wild.
var rssDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseRSSDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, format := range rssDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseAtomDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05Z", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// FeedID derives a stable identifier from the feed URL so restarts and config
// reloads agree on which source is which.
func FeedID(url string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}
