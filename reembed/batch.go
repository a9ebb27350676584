package reembed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

// BatchProcessor re-embeds batches of vector records.
type BatchProcessor struct {
	index          storage.VectorIndex
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
	logger         *slog.Logger
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts per embedding call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(index storage.VectorIndex, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		index:          index,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		logger:         logger,
	}
}

// Process embeds the text of every record and writes the normalized
// vectors back under the same keys. Records without text are left alone.
// It returns how many records were written.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.VectorRecord) (int, error) {
	var todo []*core.VectorRecord
	for _, record := range records {
		if record.Text != "" {
			todo = append(todo, record)
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}

	texts := make([]string, len(todo))
	for i, record := range todo {
		texts[i] = record.Text
	}

	var embeddings [][]float32
	err := Retry(ctx, bp.maxRetries, bp.retryBaseDelay, bp.logger, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		if err == nil && len(embeddings) != len(texts) {
			err = fmt.Errorf("%w: expected %d, got %d", ErrCountMismatch, len(texts), len(embeddings))
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("embedding batch: %w", err)
	}

	for i, record := range todo {
		record.Vector = ai.NormalizeVector(embeddings[i])
	}

	err = bp.index.Upsert(ctx, todo...)
	if !errors.Is(err, storage.ErrStaleRevision) {
		if err != nil {
			return 0, fmt.Errorf("updating records: %w", err)
		}
		return len(todo), nil
	}

	// The pipeline indexed a newer revision of some document while this
	// batch was embedding. Keep the newer records.
	written := 0
	for _, record := range todo {
		err := bp.index.Upsert(ctx, record)
		switch {
		case errors.Is(err, storage.ErrStaleRevision):
			bp.logger.Debug("skipping superseded record", "key", record.Key, "revision", record.Revision)
		case err != nil:
			return written, fmt.Errorf("updating %s: %w", record.Key, err)
		default:
			written++
		}
	}
	return written, nil
}
