package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/propbot/propbot/internal/config"
	"github.com/propbot/propbot/internal/embed"
	"github.com/propbot/propbot/internal/index"
	"github.com/propbot/propbot/internal/pipeline"
	"github.com/propbot/propbot/internal/search"
	"github.com/propbot/propbot/internal/sources"
	"github.com/propbot/propbot/internal/storage"
)

// app holds the wired-up components shared by the CLI commands and the
// server. Searcher and builder are nil when no embedding API key is
// configured; search then degrades to keyword mode and reindex is refused.
type app struct {
	cfg      config.Config
	store    *storage.Store
	sources  map[string]sources.Source
	orch     *pipeline.Orchestrator
	builder  *index.Builder
	searcher *index.Searcher
	search   *search.Service
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a := &app{
		cfg:   cfg,
		store: store,
		orch:  pipeline.NewOrchestrator(store),
		sources: map[string]sources.Source{
			storage.SourceGrantsGov: sources.NewGrantsGov(cfg.Grants.ExtractURL, &http.Client{Timeout: 5 * time.Minute}),
			storage.SourceSamGov: sources.NewSamGov(sources.SamGovConfig{
				BaseURL:   cfg.Sam.BaseURL,
				APIKey:    cfg.Sam.APIKey,
				PageSize:  cfg.Sam.PageSize,
				DaysBack:  cfg.Sam.DaysBack,
				PageDelay: cfg.Sam.PageDelay,
			}),
		},
	}

	paths := index.DefaultPaths(cfg.Storage.DataDir)
	if cfg.OpenAI.APIKey != "" {
		embedder, err := embed.NewClient(embed.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.EmbedModel,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		a.builder = index.NewBuilder(store, embedder, cfg.OpenAI.Dimension, paths)
		a.searcher = index.NewSearcher(embedder, paths)
	} else {
		printWarning("OPENAI_API_KEY not set; semantic search disabled")
	}

	if a.searcher != nil {
		a.search = search.NewService(store, a.searcher)
	} else {
		a.search = search.NewService(store, nil)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
