package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/grimoire/core"
)

// Guard enforces the fixed dimensionality of an index and classifies backend
// failures so the consumer harness can decide between retrying and stopping.
type Guard struct {
	next      Embedder
	dimension int
}

// NewGuard wraps next. Every vector it returns has exactly dimension elements.
func NewGuard(next Embedder, dimension int) *Guard {
	return &Guard{next: next, dimension: dimension}
}

// EmbedText implements Embedder.
func (g *Guard) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.next.EmbedText(ctx, text)
	if err != nil {
		return nil, g.classify(err)
	}
	if err := g.check(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedTexts implements Embedder.
func (g *Guard) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.next.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, g.classify(err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d texts", ErrBackendUnavailable, len(vecs), len(texts))
	}
	for _, vec := range vecs {
		if err := g.check(vec); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func (g *Guard) check(vec []float32) error {
	if len(vec) != g.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), g.dimension)
	}
	return nil
}

// classify leaves cancellation and already classified errors alone and marks
// everything else transient.
func (g *Guard) classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, core.ErrTransient), errors.Is(err, core.ErrConfiguration),
		errors.Is(err, core.ErrMalformed):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
}
