// Package llm is the model-agnostic façade over Anthropic and Gemini: one
// Invoke call with prompt caching, model fallback, a concurrency gate, and
// cost accounting. Callers never talk to a provider SDK directly.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptopulse/internal/cache"
	"cryptopulse/internal/config"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/store"
)

// ErrAllModelsFailed is returned when the whole fallback chain is exhausted.
var ErrAllModelsFailed = errors.New("llm: all models failed")

// ErrNoProvider is returned when a configured model has no provider wired,
// usually a missing API key.
var ErrNoProvider = errors.New("llm: no provider for model")

// Request is one completion request. Operation labels the cost ledger row.
type Request struct {
	Operation   string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int64
	Quality     bool // route to the briefing-grade chain
	NoCache     bool
}

// Response is a completed request with usage for the ledger.
type Response struct {
	Text         string
	Model        string
	Cached       bool
	InputTokens  int64
	OutputTokens int64
}

// provider is one upstream SDK. Implementations do a single call with no
// retry; the client owns fallback.
type provider interface {
	name() string
	complete(ctx context.Context, model string, req Request) (*Response, error)
}

// PromptCache is the durable prompt cache slice of the store.
type PromptCache interface {
	GetLLMCache(ctx context.Context, key string) (*store.LLMCacheEntry, error)
	PutLLMCache(ctx context.Context, e *store.LLMCacheEntry) error
}

// Recorder appends to the cost ledger.
type Recorder interface {
	Record(ctx context.Context, model, operation string, inputTokens, outputTokens int64, cached bool) error
}

// Client routes requests through the model chains with caching and fallback.
type Client struct {
	providers map[string]provider // keyed by model family prefix

	extractionChain []string
	briefingChain   []string

	prompts PromptCache  // nil disables the durable cache
	kv      *cache.Cache // nil disables the shared front
	costs   Recorder     // nil disables cost accounting

	sem      chan struct{}
	cacheTTL time.Duration
	timeout  time.Duration
}

// Options wires the client. Zero-value fields fall back to config defaults.
type Options struct {
	Config  config.LLM
	Prompts PromptCache
	KV      *cache.Cache
	Costs   Recorder
}

// New builds the façade from config. Providers without an API key are left
// out; invoking a model with no provider fails that link of the chain and
// moves on.
func New(opts Options) (*Client, error) {
	cfg := opts.Config

	providers := map[string]provider{}
	if cfg.Anthropic.APIKey != "" {
		providers["claude"] = newAnthropicProvider(cfg.Anthropic.APIKey)
	}
	if cfg.Gemini.APIKey != "" {
		g, err := newGeminiProvider(cfg.Gemini.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to init gemini provider: %w", err)
		}
		providers["gemini"] = g
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM provider configured, set ANTHROPIC_API_KEY or GEMINI_API_KEY")
	}

	extraction := append([]string{cfg.Anthropic.ExtractionModel}, cfg.Anthropic.FallbackModels...)
	if cfg.Gemini.APIKey != "" && cfg.Gemini.Model != "" {
		extraction = append(extraction, cfg.Gemini.Model)
	}
	briefing := append([]string{cfg.Anthropic.BriefingModel}, cfg.Anthropic.FallbackModels...)
	if cfg.Gemini.APIKey != "" && cfg.Gemini.Model != "" {
		briefing = append(briefing, cfg.Gemini.Model)
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	ttl := config.Duration(cfg.CacheTTL, 24*time.Hour)
	timeout := config.Duration(cfg.Timeout, 90*time.Second)

	return &Client{
		providers:       providers,
		extractionChain: dropEmpty(extraction),
		briefingChain:   dropEmpty(briefing),
		prompts:         opts.Prompts,
		kv:              opts.KV,
		costs:           opts.Costs,
		sem:             make(chan struct{}, maxConcurrent),
		cacheTTL:        ttl,
		timeout:         timeout,
	}, nil
}

// Invoke walks the model chain: cache check, provider call, fallback on
// retryable provider errors. The first model that answers wins.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	chain := c.extractionChain
	if req.Quality {
		chain = c.briefingChain
	}
	if len(chain) == 0 {
		return nil, ErrAllModelsFailed
	}

	var lastErr error
	for _, model := range chain {
		if !req.NoCache {
			if resp, ok := c.cached(ctx, model, req); ok {
				c.record(ctx, model, req.Operation, resp, true)
				return resp, nil
			}
		}

		resp, err := c.call(ctx, model, req)
		if err != nil {
			lastErr = err
			if retryableWithFallback(err) {
				logger.Warn("model failed, falling back",
					"model", model, "operation", req.Operation, "error", err.Error())
				continue
			}
			return nil, err
		}

		if !req.NoCache {
			c.store(ctx, model, req, resp)
		}
		c.record(ctx, model, req.Operation, resp, false)
		return resp, nil
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrAllModelsFailed, lastErr)
}

// call gates the provider behind the concurrency semaphore and the per-call
// timeout.
func (c *Client) call(ctx context.Context, model string, req Request) (*Response, error) {
	p := c.providerFor(model)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, model)
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.complete(callCtx, model, req)
	if err != nil {
		return nil, err
	}
	logger.Debug("llm call complete",
		"model", model, "operation", req.Operation,
		"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (c *Client) providerFor(model string) provider {
	for prefix, p := range c.providers {
		if strings.HasPrefix(model, prefix) {
			return p
		}
	}
	return nil
}

// cached checks the shared KV front, then the durable store. A durable hit
// repopulates the front.
func (c *Client) cached(ctx context.Context, model string, req Request) (*Response, bool) {
	key := CacheKey(model, req.System, req.Prompt, req.Temperature, req.MaxTokens)

	if c.kv != nil {
		if data, ok := c.kv.Get(ctx, "llm:"+key, 10*time.Minute); ok {
			return &Response{Text: string(data), Model: model, Cached: true}, true
		}
	}
	if c.prompts == nil {
		return nil, false
	}
	entry, err := c.prompts.GetLLMCache(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Debug("prompt cache read failed", "error", err.Error())
		}
		return nil, false
	}
	if c.kv != nil {
		c.kv.Set(ctx, "llm:"+key, []byte(entry.Response), time.Until(entry.ExpiresAt), 10*time.Minute)
	}
	return &Response{Text: entry.Response, Model: entry.Model, Cached: true}, true
}

// store writes both cache layers. Failures are logged, never surfaced; the
// cache is an optimization.
func (c *Client) store(ctx context.Context, model string, req Request, resp *Response) {
	key := CacheKey(model, req.System, req.Prompt, req.Temperature, req.MaxTokens)
	now := time.Now().UTC()

	if c.prompts != nil {
		entry := &store.LLMCacheEntry{
			Key:       key,
			Model:     model,
			Response:  resp.Text,
			CreatedAt: now,
			ExpiresAt: now.Add(c.cacheTTL),
		}
		if err := c.prompts.PutLLMCache(ctx, entry); err != nil {
			logger.Debug("prompt cache write failed", "error", err.Error())
		}
	}
	if c.kv != nil {
		c.kv.Set(ctx, "llm:"+key, []byte(resp.Text), c.cacheTTL, 10*time.Minute)
	}
}

func (c *Client) record(ctx context.Context, model, operation string, resp *Response, cached bool) {
	if c.costs == nil {
		return
	}
	if err := c.costs.Record(ctx, model, operation, resp.InputTokens, resp.OutputTokens, cached); err != nil {
		logger.Warn("failed to record llm cost", "error", err.Error())
	}
}

// CacheKey hashes the full request identity. Two requests with the same key
// are interchangeable for 24 hours.
func CacheKey(model, system, prompt string, temperature float64, maxTokens int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%.3f\x00%d", model, system, prompt, temperature, maxTokens)
	return hex.EncodeToString(h.Sum(nil))
}

// retryableWithFallback reports whether the next model in the chain should be
// tried: auth/availability refusals, rate limits, and server-side errors.
func retryableWithFallback(err error) bool {
	var pe *providerError
	if errors.As(err, &pe) {
		switch {
		case pe.status == 403, pe.status == 404, pe.status == 429:
			return true
		case pe.status >= 500:
			return true
		}
		return strings.Contains(strings.ToLower(pe.Error()), "model not available")
	}
	// Timeouts and transport failures: let the next model try.
	return errors.Is(err, context.DeadlineExceeded)
}

// providerError carries the upstream HTTP status through the fallback logic.
type providerError struct {
	provider string
	status   int
	err      error
}

func (e *providerError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.provider, e.status, e.err)
}

func (e *providerError) Unwrap() error { return e.err }

// CleanJSON strips markdown fences and leading chatter so the result starts
// at the first JSON value. Models wrap JSON in ```json blocks no matter how
// firmly the prompt says not to.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```json"); idx != -1 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+len("```"):]
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Trim any prose before the first brace or bracket.
	objIdx := strings.IndexAny(s, "{[")
	if objIdx > 0 {
		s = s[objIdx:]
	}
	return s
}

func dropEmpty(models []string) []string {
	out := models[:0]
	for _, m := range models {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}
