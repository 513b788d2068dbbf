package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptopulse/internal/store"
)

type fakeProvider struct {
	fails map[string]error
	calls []string
}

func (f *fakeProvider) name() string { return "fake" }

func (f *fakeProvider) complete(_ context.Context, model string, _ Request) (*Response, error) {
	f.calls = append(f.calls, model)
	if err, ok := f.fails[model]; ok {
		return nil, err
	}
	return &Response{Text: `{"ok":true}`, Model: model, InputTokens: 10, OutputTokens: 5}, nil
}

type fakePrompts struct {
	entries map[string]*store.LLMCacheEntry
	puts    int
}

func (f *fakePrompts) GetLLMCache(_ context.Context, key string) (*store.LLMCacheEntry, error) {
	if e, ok := f.entries[key]; ok {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakePrompts) PutLLMCache(_ context.Context, e *store.LLMCacheEntry) error {
	f.puts++
	f.entries[e.Key] = e
	return nil
}

type fakeRecorder struct {
	cached int
	live   int
}

func (f *fakeRecorder) Record(_ context.Context, _, _ string, _, _ int64, cached bool) error {
	if cached {
		f.cached++
	} else {
		f.live++
	}
	return nil
}

func newTestClient(p provider, prompts PromptCache, rec Recorder, chain ...string) *Client {
	return &Client{
		providers:       map[string]provider{"fake": p},
		extractionChain: chain,
		briefingChain:   chain,
		prompts:         prompts,
		costs:           rec,
		sem:             make(chan struct{}, 2),
		cacheTTL:        time.Hour,
		timeout:         time.Second,
	}
}

func TestInvokeFallsBackOnRetryableError(t *testing.T) {
	fp := &fakeProvider{fails: map[string]error{
		"fake-primary": &providerError{provider: "fake", status: 403, err: errors.New("model not available")},
	}}
	rec := &fakeRecorder{}
	c := newTestClient(fp, nil, rec, "fake-primary", "fake-backup")

	resp, err := c.Invoke(context.Background(), Request{Operation: "extract", Prompt: "p", NoCache: true})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if resp.Model != "fake-backup" {
		t.Errorf("answered by %q, want fallback model", resp.Model)
	}
	if len(fp.calls) != 2 {
		t.Errorf("expected 2 provider calls, got %v", fp.calls)
	}
	if rec.live != 1 {
		t.Errorf("expected 1 live cost record, got %d", rec.live)
	}
}

func TestInvokeStopsOnNonRetryableError(t *testing.T) {
	fp := &fakeProvider{fails: map[string]error{
		"fake-primary": &providerError{provider: "fake", status: 400, err: errors.New("bad request")},
	}}
	c := newTestClient(fp, nil, nil, "fake-primary", "fake-backup")

	_, err := c.Invoke(context.Background(), Request{Operation: "extract", Prompt: "p", NoCache: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(fp.calls) != 1 {
		t.Errorf("bad request must not trigger fallback, calls: %v", fp.calls)
	}
}

func TestInvokeAllModelsFailed(t *testing.T) {
	fp := &fakeProvider{fails: map[string]error{
		"fake-primary": &providerError{provider: "fake", status: 500, err: errors.New("down")},
		"fake-backup":  &providerError{provider: "fake", status: 503, err: errors.New("also down")},
	}}
	c := newTestClient(fp, nil, nil, "fake-primary", "fake-backup")

	_, err := c.Invoke(context.Background(), Request{Operation: "extract", Prompt: "p", NoCache: true})
	if !errors.Is(err, ErrAllModelsFailed) {
		t.Fatalf("expected ErrAllModelsFailed, got %v", err)
	}
}

func TestInvokeUsesPromptCache(t *testing.T) {
	fp := &fakeProvider{}
	prompts := &fakePrompts{entries: map[string]*store.LLMCacheEntry{}}
	rec := &fakeRecorder{}
	c := newTestClient(fp, prompts, rec, "fake-primary")

	req := Request{Operation: "extract", Prompt: "same prompt", Temperature: 0.2, MaxTokens: 512}

	first, err := c.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("first Invoke failed: %v", err)
	}
	if first.Cached {
		t.Error("first call should not be cached")
	}
	if prompts.puts != 1 {
		t.Errorf("expected 1 cache write, got %d", prompts.puts)
	}

	second, err := c.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("second Invoke failed: %v", err)
	}
	if !second.Cached {
		t.Error("second call should hit the cache")
	}
	if len(fp.calls) != 1 {
		t.Errorf("provider called %d times, want 1", len(fp.calls))
	}
	if rec.cached != 1 || rec.live != 1 {
		t.Errorf("ledger rows: cached=%d live=%d, want 1/1", rec.cached, rec.live)
	}
}

func TestCacheKeyIdentity(t *testing.T) {
	base := CacheKey("m", "sys", "prompt", 0.2, 512)
	if CacheKey("m", "sys", "prompt", 0.2, 512) != base {
		t.Error("identical requests must share a key")
	}
	if CacheKey("m2", "sys", "prompt", 0.2, 512) == base {
		t.Error("model must be part of the key")
	}
	if CacheKey("m", "sys", "prompt", 0.7, 512) == base {
		t.Error("temperature must be part of the key")
	}
	if CacheKey("m", "sys", "prompt", 0.2, 1024) == base {
		t.Error("max_tokens must be part of the key")
	}
}

func TestCleanJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n[1,2]\n```", "[1,2]"},
		{"Here is the result:\n{\"a\":1}", "{\"a\":1}"},
		{"  {\"a\": 1}  ", "{\"a\": 1}"},
	}
	for _, tc := range cases {
		if got := CleanJSON(tc.in); got != tc.want {
			t.Errorf("CleanJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
