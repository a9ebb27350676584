package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// batchSize bounds how many texts go into one embeddings request. Chunk
// batches from the pipeline stay well below it.
const batchSize = 64

// Embedder calls an OpenAI-compatible /embeddings endpoint through
// langchaingo.
type Embedder struct {
	client embeddings.Embedder
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder for the host and model in config. Local
// OpenAI-compatible servers that ignore auth get a placeholder token.
func NewEmbedder(config *ai.Config, logger *slog.Logger) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	token := config.APIKey
	if token == "" {
		token = "none"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(token),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("openai client for %s: %w: %w", config.EmbeddingHost, core.ErrConfiguration, err)
	}
	client, err := embeddings.NewEmbedder(llm,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(batchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w: %w", core.ErrConfiguration, err)
	}

	return &Embedder{
		client: client,
		logger: logger.With("component", "openai-embedder", "model", config.EmbeddingModel),
	}, nil
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds texts in order. A response with fewer vectors than
// inputs is reported as an unavailable backend.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.client.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Warn("embedding request failed", "count", len(texts), "err", err)
		return nil, fmt.Errorf("%w: %w", ai.ErrBackendUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ai.ErrBackendUnavailable, len(vecs), len(texts))
	}
	e.logger.Debug("embedded texts", "count", len(texts))
	return vecs, nil
}
