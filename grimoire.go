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

// Package grimoire assembles the ingestion runtime from configuration: the
// stores, the broker, the embedding backend and every stage built on them.
package grimoire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/ai/ollama"
	"github.com/poiesic/grimoire/ai/openai"
	"github.com/poiesic/grimoire/broker"
	"github.com/poiesic/grimoire/broker/amqp"
	"github.com/poiesic/grimoire/broker/memory"
	"github.com/poiesic/grimoire/chunk"
	"github.com/poiesic/grimoire/config"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/crack"
	"github.com/poiesic/grimoire/ingestion"
	"github.com/poiesic/grimoire/reembed"
	"github.com/poiesic/grimoire/scan"
	"github.com/poiesic/grimoire/search"
	"github.com/poiesic/grimoire/storage"
	"github.com/poiesic/grimoire/storage/badger"
	"github.com/poiesic/grimoire/storage/sqlite"
)

// Runtime owns the shared resources of one grimoire process.
type Runtime struct {
	config    *config.Config
	stores    *badger.Stores
	documents storage.DocumentRepository
	broker    broker.Broker
	embedder  ai.Embedder
	runner    crack.CommandRunner
	counter   chunk.TokenCounter
	logger    *slog.Logger

	// closers release owned resources in reverse order
	closers []func() error
}

// Option configures Open.
type Option func(*options)

type options struct {
	broker   broker.Broker
	embedder ai.Embedder
	runner   crack.CommandRunner
	counter  chunk.TokenCounter
	migrate  bool
	logger   *slog.Logger
}

// WithBroker uses b instead of the configured broker. The caller keeps
// ownership of b.
func WithBroker(b broker.Broker) Option {
	return func(o *options) { o.broker = b }
}

// WithEmbedder uses e instead of the configured embedding backend. It is
// still wrapped by the dimension guard.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithCommandRunner sets the runner used for external extraction tools.
func WithCommandRunner(r crack.CommandRunner) Option {
	return func(o *options) { o.runner = r }
}

// WithTokenCounter overrides the configured tokenizer.
func WithTokenCounter(c chunk.TokenCounter) Option {
	return func(o *options) { o.counter = c }
}

// WithMigration opens the vector index even if it was built with another
// embedding model. Only reembed should use it.
func WithMigration() Option {
	return func(o *options) { o.migrate = true }
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Schema returns the vector collection schema described by cfg.
func Schema(cfg *config.Config) core.IndexSchema {
	return core.IndexSchema{
		Collection:     cfg.Index.Collection,
		Model:          cfg.Embedding.Model,
		Dimension:      cfg.Embedding.Dimensions,
		FilterableTags: cfg.Index.FilterableTags,
	}
}

// Open validates cfg and opens every store, the broker and the embedder.
func Open(cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}

	rt := &Runtime{
		config: cfg,
		runner: o.runner,
		logger: o.logger,
	}
	if err := rt.open(o); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(o options) error {
	var indexOpts []badger.IndexOption
	if o.migrate {
		indexOpts = append(indexOpts, badger.WithMigration())
	}
	stores, err := badger.OpenStores(rt.config.Storage.Path, Schema(rt.config), rt.logger, indexOpts...)
	if err != nil {
		return fmt.Errorf("opening stores: %w", err)
	}
	rt.stores = stores
	rt.closers = append(rt.closers, stores.Close)

	rt.documents = stores.Documents
	if rt.config.Storage.MetadataDriver == config.MetadataSQLite {
		repo, err := sqlite.Open(rt.config.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening metadata store: %w", err)
		}
		rt.documents = repo
		rt.closers = append(rt.closers, repo.Close)
	}

	rt.broker = o.broker
	if rt.broker == nil {
		b, err := NewBroker(rt.config.Broker, rt.logger)
		if err != nil {
			return err
		}
		rt.broker = b
		rt.closers = append(rt.closers, b.Close)
	}

	embedder := o.embedder
	if embedder == nil {
		embedder, err = NewBackend(rt.config.Embedding, rt.logger)
		if err != nil {
			return err
		}
	}
	rt.embedder = Decorate(embedder, rt.config.Embedding)

	rt.counter = o.counter
	if rt.counter == nil {
		rt.counter, err = newCounter(rt.config.Chunking.Tokenizer)
		if err != nil {
			return err
		}
	}
	return nil
}

// NewBroker connects the configured broker.
func NewBroker(cfg config.BrokerConfig, logger *slog.Logger) (broker.Broker, error) {
	switch cfg.Driver {
	case config.BrokerAMQP:
		return amqp.Dial(amqp.Config{URL: cfg.URL, Exchange: cfg.Exchange, Logger: logger})
	case config.BrokerMemory, "":
		return memory.New(logger), nil
	}
	return nil, fmt.Errorf("unknown broker driver %q: %w", cfg.Driver, core.ErrConfiguration)
}

// NewBackend creates the configured embedding backend without decorators.
func NewBackend(cfg config.EmbeddingConfig, logger *slog.Logger) (ai.Embedder, error) {
	aiConfig := ai.NewConfig(
		ai.WithBackend(cfg.Backend),
		ai.WithEmbeddingHost(cfg.Host),
		ai.WithEmbeddingModel(cfg.Model),
		ai.WithAPIKey(cfg.APIKey),
		ai.WithDimensions(cfg.Dimensions),
		ai.WithCacheSize(cfg.CacheSize),
		ai.WithRequestsPerSecond(cfg.RequestsPerSecond),
	)
	var (
		backend ai.Embedder
		err     error
	)
	switch aiConfig.Backend {
	case ai.BackendOpenAI:
		backend, err = openai.NewEmbedder(aiConfig, logger)
	case ai.BackendOllama:
		backend, err = ollama.NewEmbedder(aiConfig, logger)
	default:
		return nil, fmt.Errorf("unknown embedding backend %q: %w", cfg.Backend, core.ErrConfiguration)
	}
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// Decorate wraps a backend as Cache(Guard(RateLimited(backend))). The rate
// limiter and cache are skipped when not configured.
func Decorate(backend ai.Embedder, cfg config.EmbeddingConfig) ai.Embedder {
	e := backend
	if cfg.RequestsPerSecond > 0 {
		e = ai.NewRateLimited(e, cfg.RequestsPerSecond)
	}
	e = ai.NewGuard(e, cfg.Dimensions)
	if cfg.CacheSize > 0 {
		e = ai.NewCache(e, cfg.CacheSize)
	}
	return e
}

func newCounter(tokenizer string) (chunk.TokenCounter, error) {
	if tokenizer == config.TokenizerWords {
		return chunk.WordCounter{}, nil
	}
	return chunk.NewTiktokenCounter(chunk.DefaultEncoding)
}

// Broker returns the runtime's broker.
func (rt *Runtime) Broker() broker.Broker { return rt.broker }

// Embedder returns the decorated embedder.
func (rt *Runtime) Embedder() ai.Embedder { return rt.embedder }

// Index returns the vector index.
func (rt *Runtime) Index() storage.VectorIndex { return rt.stores.Index }

// Documents returns the metadata store.
func (rt *Runtime) Documents() storage.DocumentRepository { return rt.documents }

// Checkpoints returns the checkpoint store.
func (rt *Runtime) Checkpoints() storage.CheckpointRepository { return rt.stores.Checkpoints }

// Detector creates the change detector over the configured sources.
func (rt *Runtime) Detector() (*scan.Detector, error) {
	return scan.NewDetector(scan.Config{
		Roots:      rt.config.Sources.Roots,
		Extensions: rt.config.Sources.Extensions,
		Interval:   rt.config.Sources.ScanInterval,
	}, rt.documents, rt.stores.Checkpoints, rt.broker, rt.logger)
}

// Pipeline creates consumers for stages, every stage when none are given.
func (rt *Runtime) Pipeline(stages ...string) (*ingestion.Pipeline, error) {
	if len(stages) == 0 {
		stages = ingestion.Stages()
	}

	deps := ingestion.Dependencies{
		Embedder: rt.embedder,
		Index:    rt.stores.Index,
	}
	for _, stage := range stages {
		switch stage {
		case ingestion.StageCrack:
			cracker, err := crack.New(crack.Config{
				Roots:     rt.config.Sources.Roots,
				PDFToText: rt.config.Crack.PDFToText,
				Runner:    rt.runner,
			}, rt.logger)
			if err != nil {
				return nil, err
			}
			deps.Cracker = cracker
			if rt.config.Crack.RetainBinary {
				deps.Blobs = rt.stores.Blobs
			}
		case ingestion.StageChunk:
			c := rt.config.Chunking
			chunker, err := chunk.New(chunk.Config{
				MaxTokens:        c.MaxTokens,
				BufferSize:       c.BufferSize,
				ThresholdType:    chunk.ThresholdType(c.ThresholdType),
				ThresholdAmount:  c.ThresholdAmount,
				TargetChunkCount: c.TargetChunkCount,
				MinChunkLength:   c.MinChunkLength,
			}, rt.embedder, rt.counter, rt.logger)
			if err != nil {
				return nil, err
			}
			deps.Chunker = chunker
		}
	}

	b := rt.config.Broker
	return ingestion.NewPipeline(rt.broker, deps,
		ingestion.WithStages(stages...),
		ingestion.WithPrefetch(b.Prefetch),
		ingestion.WithLogger(rt.logger),
		ingestion.WithConsumerOptions(broker.Options{
			PoolSize:    b.PoolSize,
			MaxAttempts: b.MaxAttempts,
			BaseDelay:   b.BaseDelay,
			MaxDelay:    b.MaxDelay,
			Grace:       b.Grace,
		}),
	)
}

// Searcher creates a searcher over the vector index.
func (rt *Runtime) Searcher(opts ...search.Option) (*search.Searcher, error) {
	opts = append([]search.Option{search.WithLogger(rt.logger)}, opts...)
	return search.NewSearcher(rt.stores.Index, rt.embedder, opts...)
}

// Reembedder creates a reembedder writing progress to progress. The
// runtime should be opened WithMigration when the model changed.
func (rt *Runtime) Reembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(rt.stores.Index, rt.embedder, rt.stores.Checkpoints, cfg, progress, rt.logger)
}

// Status summarizes what the runtime's stores currently hold.
type Status struct {
	Schema      core.IndexSchema
	Documents   int
	Records     int
	Checkpoints []*core.Checkpoint
}

// Status reads document, record and checkpoint counts.
func (rt *Runtime) Status(ctx context.Context) (*Status, error) {
	docs, err := rt.documents.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	records, err := rt.stores.Index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	checkpoints, err := rt.stores.Checkpoints.ListCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	return &Status{
		Schema:      rt.stores.Index.Schema(),
		Documents:   len(docs),
		Records:     records,
		Checkpoints: checkpoints,
	}, nil
}

// Say publishes a conversation turn to the worker pool of its role.
func (rt *Runtime) Say(ctx context.Context, msg core.ConversationMessageReadyForEmbedding) error {
	return broker.Publish(ctx, rt.broker, msg)
}

// Run serves every pipeline stage and the change detector in one process
// until ctx is cancelled or a stage fails fatally. The detector polls at
// the scan interval, or watches the sources when configured to.
func (rt *Runtime) Run(ctx context.Context) error {
	pipeline, err := rt.Pipeline()
	if err != nil {
		return err
	}
	detector, err := rt.Detector()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	// Queues must exist before the first scan publishes.
	if err := pipeline.Bind(ctx); err != nil {
		return err
	}
	g.Go(pipeline.Serve)
	g.Go(func() error {
		if rt.config.Sources.Watch {
			return detector.Watch(ctx, rt.config.Sources.WatchDebounce)
		}
		return detector.Run(ctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases every resource the runtime opened.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
