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

package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/broker"
	"github.com/poiesic/grimoire/chunk"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/crack"
	"github.com/poiesic/grimoire/storage"
	"golang.org/x/sync/errgroup"
)

// Stage names.
const (
	StageCrack = "crack"
	StageChunk = "chunk"
	StageEmbed = "embed"
)

// QueuePrefix prefixes every queue the pipeline declares.
const QueuePrefix = "grimoire."

// ConversationStageName returns the stage name of a role's conversation worker.
func ConversationStageName(role core.Role) string {
	return "conversation-" + string(role)
}

// Stages returns every stage name in pipeline order.
func Stages() []string {
	stages := []string{StageCrack, StageChunk, StageEmbed}
	for _, role := range core.Roles() {
		stages = append(stages, ConversationStageName(role))
	}
	return stages
}

// Dependencies are the collaborators of the stages. A stage only requires
// the ones it uses.
type Dependencies struct {
	Cracker  *crack.Cracker
	Chunker  *chunk.Chunker
	Embedder ai.Embedder
	Index    storage.VectorIndex
	// Blobs retains raw binaries of cracked documents when set.
	Blobs storage.BlobStore
}

// consumer is the lifecycle shared by every broker.Consumer[T].
type consumer interface {
	Bind(ctx context.Context) error
	Serve() error
}

// Pipeline runs a set of stage consumers against one broker.
type Pipeline struct {
	broker    broker.Broker
	deps      Dependencies
	stages    []string
	options   broker.Options
	prefetch  int
	consumers map[string]consumer
	logger    *slog.Logger
	cancel    context.CancelFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithStages selects the stages to run. Default is every stage.
func WithStages(stages ...string) Option {
	return func(p *Pipeline) error {
		if len(stages) == 0 {
			return fmt.Errorf("%w: no stages selected", ErrUnknownStage)
		}
		p.stages = stages
		return nil
	}
}

// WithConsumerOptions sets worker pool, retry and shutdown settings shared
// by every stage.
func WithConsumerOptions(opts broker.Options) Option {
	return func(p *Pipeline) error {
		p.options = opts
		return nil
	}
}

// WithPrefetch bounds unacknowledged deliveries per stage.
// Default is the consumer pool size.
func WithPrefetch(n int) Option {
	return func(p *Pipeline) error {
		p.prefetch = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates the consumers of the selected stages.
func NewPipeline(b broker.Broker, deps Dependencies, opts ...Option) (*Pipeline, error) {
	if b == nil {
		return nil, ErrBrokerRequired
	}
	p := &Pipeline{
		broker:    b,
		deps:      deps,
		stages:    Stages(),
		consumers: make(map[string]consumer),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pipeline")
	if p.options.Logger == nil {
		p.options.Logger = p.logger
	}

	for _, name := range p.stages {
		if _, dup := p.consumers[name]; dup {
			continue
		}
		c, err := p.build(name)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
		p.consumers[name] = c
	}
	return p, nil
}

func (p *Pipeline) build(name string) (consumer, error) {
	binding := func(keys ...string) broker.Binding {
		return broker.Binding{
			Queue:       QueuePrefix + strings.ReplaceAll(name, "-", "."),
			RoutingKeys: keys,
			Prefetch:    p.prefetch,
		}
	}

	switch name {
	case StageCrack:
		if p.deps.Cracker == nil {
			return nil, fmt.Errorf("%w: cracker", ErrDependencyMissing)
		}
		stage := NewCrackStage(p.broker, p.deps.Cracker, p.deps.Blobs, p.logger)
		return broker.NewConsumer[core.CrackDocument](p.broker, binding(core.RouteCrackDocument), stage.Handle, p.options)

	case StageChunk:
		if p.deps.Chunker == nil {
			return nil, fmt.Errorf("%w: chunker", ErrDependencyMissing)
		}
		stage := NewChunkStage(p.broker, p.deps.Chunker, p.logger)
		return broker.NewConsumer[core.ReadyForChunking](p.broker, binding(core.RouteReadyForChunking), stage.Handle, p.options)

	case StageEmbed:
		writer, err := p.writer()
		if err != nil {
			return nil, err
		}
		stage := NewEmbedStage(p.deps.Embedder, writer, p.logger)
		return broker.NewConsumer[core.ChunkReadyForEmbedding](p.broker, binding(core.RouteChunkReadyForEmbed), stage.Handle, p.options)
	}

	for _, role := range core.Roles() {
		if name != ConversationStageName(role) {
			continue
		}
		writer, err := p.writer()
		if err != nil {
			return nil, err
		}
		stage := NewConversationStage(role, p.deps.Embedder, writer, p.logger)
		return broker.NewConsumer[core.ConversationMessageReadyForEmbedding](p.broker, binding(core.ConversationRoutingKey(role)), stage.Handle, p.options)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

func (p *Pipeline) writer() (*IndexWriter, error) {
	if p.deps.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrDependencyMissing)
	}
	return NewIndexWriter(p.deps.Index)
}

// Bind declares every stage queue. Messages published after Bind returns
// are retained even if Serve has not started.
func (p *Pipeline) Bind(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	for name, c := range p.consumers {
		if err := c.Bind(ctx); err != nil {
			p.cancel()
			return fmt.Errorf("stage %s: %w", name, err)
		}
	}
	return nil
}

// Serve runs every bound stage until the Bind context is cancelled. The
// first fatal stage error stops the others and is returned.
func (p *Pipeline) Serve() error {
	if p.cancel == nil {
		return broker.ErrNotBound
	}
	defer p.cancel()

	var g errgroup.Group
	for name, c := range p.consumers {
		g.Go(func() error {
			if err := c.Serve(); err != nil {
				p.cancel()
				return fmt.Errorf("stage %s: %w", name, err)
			}
			return nil
		})
	}
	p.logger.Info("pipeline running", "stages", p.stages)
	return g.Wait()
}

// Run binds and serves the pipeline until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Bind(ctx); err != nil {
		return err
	}
	return p.Serve()
}
