package ai

import "context"

// Embedder turns text into vectors. Implementations are safe for concurrent
// use and never retry; failed calls surface to the caller, which decides
// whether the work is redelivered.
type Embedder interface {
	// EmbedText embeds a single text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts embeds texts in one request, returning vectors in input
	// order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
