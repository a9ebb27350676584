package reembed

import (
	"fmt"

	"github.com/poiesic/grimoire/core"
)

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = fmt.Errorf("maxAttempts must be greater than 0: %w", core.ErrConfiguration)

	// ErrIndexRequired is returned when no vector index is provided.
	ErrIndexRequired = fmt.Errorf("vector index required: %w", core.ErrConfiguration)

	// ErrEmbedderRequired is returned when no embedder is provided.
	ErrEmbedderRequired = fmt.Errorf("embedder required: %w", core.ErrConfiguration)

	// ErrCountMismatch is returned when the embedder answers a batch with the
	// wrong number of vectors.
	ErrCountMismatch = fmt.Errorf("embedding count mismatch: %w", core.ErrTransient)
)
