// Package ollama implements ai.Embedder with the native Ollama API client.
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/core"
)

// Embedder calls Ollama's /api/embed endpoint.
type Embedder struct {
	client *api.Client
	model  string
	logger *slog.Logger
}

// NewEmbedder creates an embedder for the host and model in config.
func NewEmbedder(config *ai.Config, logger *slog.Logger) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(config.EmbeddingHost)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", config.EmbeddingHost, core.ErrConfiguration)
	}

	return &Embedder{
		client: api.NewClient(base, http.DefaultClient),
		model:  config.EmbeddingModel,
		logger: logger.With("component", "ollama-embedder", "model", config.EmbeddingModel),
	}, nil
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings: %w", ai.ErrBackendUnavailable)
	}
	return vecs[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		e.logger.Warn("embed request failed", "count", len(texts), "err", err)
		return nil, fmt.Errorf("%w: %w", ai.ErrBackendUnavailable, err)
	}
	return resp.Embeddings, nil
}
