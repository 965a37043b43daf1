// Package embed wraps an OpenAI-compatible embeddings API behind a small
// order-preserving batch contract.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client generates text embeddings through an OpenAI-compatible endpoint.
type Client struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

// Config carries embedding client settings. BaseURL is optional and only
// needed for non-default (self-hosted) endpoints.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewClient creates an embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Client{
		embedder: embedder,
		model:    cfg.Model,
		logger:   slog.Default().With("component", "embedder"),
	}, nil
}

// EmbedTexts returns one vector per input text, in input order.
// Returns nil (not error) for empty input.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	c.logger.Debug("embedding batch", "model", c.model, "count", len(texts))

	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}
