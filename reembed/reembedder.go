// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

// CheckpointName identifies reembed runs in the checkpoint store.
const CheckpointName = "reembed"

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Filter restricts the run to records whose tags match
	Filter storage.Filter
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Report summarizes a run.
type Report struct {
	Total      int
	Reembedded int
	Skipped    int
	Duration   time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf("%d records: %d re-embedded, %d skipped in %s",
		r.Total, r.Reembedded, r.Skipped, r.Duration.Round(time.Millisecond))
}

// Reembedder re-embeds every record of a vector index.
type Reembedder struct {
	index       storage.VectorIndex
	checkpoints storage.CheckpointRepository
	config      *Config
	progress    io.Writer
	processor   *BatchProcessor
	iterator    *RecordIterator
	logger      *slog.Logger
}

// NewReembedder creates a new reembedder. The index should be opened with
// the new model's schema; the embedder must produce vectors of its
// dimension. checkpoints may be nil. progress receives the progress line
// (typically os.Stderr).
func NewReembedder(index storage.VectorIndex, embedder ai.Embedder, checkpoints storage.CheckpointRepository, config *Config, progress io.Writer, logger *slog.Logger) (*Reembedder, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reembedder", "collection", index.Schema().Collection)

	return &Reembedder{
		index:       index,
		checkpoints: checkpoints,
		config:      config,
		progress:    progress,
		processor:   NewBatchProcessor(index, ai.NewGuard(embedder, index.Schema().Dimension), config.MaxRetries, config.RetryDelay, logger),
		iterator:    NewRecordIterator(index, config.BatchSize, config.Filter),
		logger:      logger,
	}, nil
}

// Run re-embeds every matching record and records a checkpoint when done.
func (r *Reembedder) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	keys, err := r.iterator.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	report := &Report{Total: len(keys)}
	if report.Total == 0 {
		r.logger.Info("no records to re-embed")
		return report, nil
	}

	schema := r.index.Schema()
	r.logger.Info("re-embedding", "records", report.Total, "model", schema.Model,
		"dimension", schema.Dimension, "batch_size", r.config.BatchSize)

	progress := NewProgress(r.progress, report.Total, r.config.ReportInterval)

	err = r.iterator.ForEach(ctx, func(records []*core.VectorRecord) error {
		written, err := r.processor.Process(ctx, records)
		if err != nil {
			return err
		}
		report.Reembedded += written
		report.Skipped += len(records) - written
		progress.Add(len(records), len(records)-written)
		return nil
	})
	if err != nil {
		return report, err
	}
	progress.Finish()

	report.Skipped = report.Total - report.Reembedded
	report.Duration = time.Since(start)
	r.logger.Info("re-embedding complete", "reembedded", report.Reembedded, "skipped", report.Skipped, "duration", report.Duration)

	if r.checkpoints != nil {
		now := time.Now().UTC()
		err := r.checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{
			ProcessorType: CheckpointName,
			LastRunAt:     now,
			Detail:        fmt.Sprintf("%s/%d: %s", schema.Model, schema.Dimension, report),
			UpdatedAt:     now,
		})
		if err != nil {
			return report, fmt.Errorf("saving checkpoint: %w", err)
		}
	}
	return report, nil
}
