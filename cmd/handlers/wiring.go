package handlers

import (
	"context"
	"fmt"

	"cryptopulse/internal/cache"
	"cryptopulse/internal/config"
	"cryptopulse/internal/cost"
	"cryptopulse/internal/extract"
	"cryptopulse/internal/ingest"
	"cryptopulse/internal/llm"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/store"
)

// openStore connects to the document store and makes sure the indexes the
// queries lean on exist.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.New(ctx, config.GetMongoURI())
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	if err := st.EnsureIndexes(ctx); err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return st, nil
}

func closeStore(ctx context.Context, st *store.Store) {
	if err := st.Close(ctx); err != nil {
		logger.Warn("failed to close document store", "error", err.Error())
	}
}

// buildLLM assembles the provider façade with its durable prompt cache and
// cost ledger attached.
func buildLLM(st *store.Store, kv *cache.Cache, tracker *cost.Tracker) (*llm.Client, error) {
	client, err := llm.New(llm.Options{
		Config:  config.GetLLM(),
		Prompts: st,
		KV:      kv,
		Costs:   tracker,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build llm client: %w", err)
	}
	return client, nil
}

// buildIngest assembles the full ingestion pipeline: default feed registry,
// fetcher, LLM extractor, store.
func buildIngest(st *store.Store, client *llm.Client) *ingest.Pipeline {
	cfg := config.GetIngest()
	registry := ingest.NewRegistry(nil)
	fetcher := ingest.NewFetcher(registry, cfg)
	extractor := extract.NewExtractor(client, cfg)
	return ingest.NewPipeline(ingest.Options{
		Store:     st,
		Fetcher:   fetcher,
		Extractor: extractor,
		Config:    cfg,
	})
}
