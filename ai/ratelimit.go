package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an embedding backend with a token bucket.
// A batch call consumes one token.
type RateLimited struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimited wraps next so it is called at most rps times per second.
func NewRateLimited(next Embedder, rps float64) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// EmbedText implements Embedder.
func (r *RateLimited) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.EmbedText(ctx, text)
}

// EmbedTexts implements Embedder.
func (r *RateLimited) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.EmbedTexts(ctx, texts)
}
