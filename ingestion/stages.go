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
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/broker"
	"github.com/poiesic/grimoire/chunk"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/crack"
	"github.com/poiesic/grimoire/storage"
)

// CrackStage extracts document text and forwards it to the chunker.
type CrackStage struct {
	broker  broker.Broker
	cracker *crack.Cracker
	blobs   storage.BlobStore // nil disables binary retention
	logger  *slog.Logger
}

// NewCrackStage creates the crack stage. Raw bytes of binary formats are
// kept in blobs when it is not nil.
func NewCrackStage(b broker.Broker, cracker *crack.Cracker, blobs storage.BlobStore, logger *slog.Logger) *CrackStage {
	return &CrackStage{broker: b, cracker: cracker, blobs: blobs, logger: orDefault(logger).With("stage", StageCrack)}
}

// Handle implements broker.Handler.
func (s *CrackStage) Handle(ctx context.Context, msg core.CrackDocument) error {
	result, err := s.cracker.Crack(ctx, msg.RelativePath)
	if errors.Is(err, crack.ErrEmptyDocument) {
		s.logger.Warn("document has no text, retiring indexed chunks", msg.LogAttrs()...)
		return retire(ctx, s.broker, msg.DocumentRef)
	}
	if err != nil {
		return err
	}

	var blobKey string
	if s.blobs != nil && result.Raw != nil {
		blobKey = storage.BlobKey(msg.DocumentID, msg.Revision)
		if err := s.blobs.PutBlob(ctx, blobKey, result.Raw); err != nil {
			return fmt.Errorf("retaining %s: %w", msg.RelativePath, err)
		}
	}

	if err := broker.Publish(ctx, s.broker, core.ReadyForChunking{
		DocumentRef: msg.DocumentRef,
		Text:        result.Text,
	}); err != nil {
		return err
	}

	s.logger.Info("document cracked", append(msg.LogAttrs(), "format", result.Format, "length", len(result.Text))...)
	return broker.Publish(ctx, s.broker, core.DocumentCracked{
		DocumentRef: msg.DocumentRef,
		Format:      result.Format.String(),
		TextLength:  len(result.Text),
		BlobKey:     blobKey,
	})
}

// ChunkStage splits document text and publishes one message per chunk.
type ChunkStage struct {
	broker  broker.Broker
	chunker *chunk.Chunker
	logger  *slog.Logger
}

// NewChunkStage creates the chunk stage.
func NewChunkStage(b broker.Broker, chunker *chunk.Chunker, logger *slog.Logger) *ChunkStage {
	return &ChunkStage{broker: b, chunker: chunker, logger: orDefault(logger).With("stage", StageChunk)}
}

// Handle implements broker.Handler.
func (s *ChunkStage) Handle(ctx context.Context, msg core.ReadyForChunking) error {
	result, err := s.chunker.Split(ctx, msg.Text)
	if err != nil {
		return err
	}
	for _, d := range result.Dropped {
		s.logger.Info("chunk dropped", append(msg.LogAttrs(), "index", d.Index, "length", d.Length)...)
	}
	if len(result.Chunks) == 0 {
		s.logger.Warn("document produced no chunks, retiring indexed chunks", msg.LogAttrs()...)
		return retire(ctx, s.broker, msg.DocumentRef)
	}

	for _, c := range result.Chunks {
		if err := broker.Publish(ctx, s.broker, core.ChunkReadyForEmbedding{
			DocumentRef: msg.DocumentRef,
			ChunkID:     c.Id,
			ChunkIndex:  c.Index,
			ChunkCount:  len(result.Chunks),
			Text:        c.Text,
		}); err != nil {
			return err
		}
	}
	s.logger.Info("document chunked", append(msg.LogAttrs(), "chunks", len(result.Chunks), "dropped", len(result.Dropped))...)
	return nil
}

// EmbedStage embeds document chunks and writes them to the index.
type EmbedStage struct {
	embedder ai.Embedder
	writer   *IndexWriter
	logger   *slog.Logger
}

// NewEmbedStage creates the embed stage.
func NewEmbedStage(embedder ai.Embedder, writer *IndexWriter, logger *slog.Logger) *EmbedStage {
	return &EmbedStage{embedder: embedder, writer: writer, logger: orDefault(logger).With("stage", StageEmbed)}
}

// Handle implements broker.Handler.
func (s *EmbedStage) Handle(ctx context.Context, msg core.ChunkReadyForEmbedding) error {
	if msg.Empty() {
		removed, err := s.writer.Retire(ctx, msg.DocumentRef)
		if err != nil {
			return err
		}
		s.logger.Info("document retired", append(msg.LogAttrs(), "removed", removed)...)
		return nil
	}
	vector, err := s.embedder.EmbedText(ctx, msg.Text)
	if err != nil {
		return err
	}
	if err := s.writer.WriteChunk(ctx, msg, vector); err != nil {
		return err
	}
	s.logger.Debug("chunk indexed", append(msg.LogAttrs(), "chunk_index", msg.ChunkIndex)...)
	return nil
}

// ConversationStage embeds conversation turns of one role.
type ConversationStage struct {
	role     core.Role
	embedder ai.Embedder
	writer   *IndexWriter
	logger   *slog.Logger
}

// NewConversationStage creates the conversation stage for role.
func NewConversationStage(role core.Role, embedder ai.Embedder, writer *IndexWriter, logger *slog.Logger) *ConversationStage {
	return &ConversationStage{
		role:     role,
		embedder: embedder,
		writer:   writer,
		logger:   orDefault(logger).With("stage", ConversationStageName(role)),
	}
}

// Handle implements broker.Handler.
func (s *ConversationStage) Handle(ctx context.Context, msg core.ConversationMessageReadyForEmbedding) error {
	if msg.Role != s.role {
		return fmt.Errorf("%w: %s worker got %s", ErrMisrouted, s.role, msg.Role)
	}
	vector, err := s.embedder.EmbedText(ctx, msg.Content)
	if err != nil {
		return err
	}
	if err := s.writer.WriteConversation(ctx, msg, vector); err != nil {
		return err
	}
	s.logger.Debug("conversation message indexed", msg.LogAttrs()...)
	return nil
}

// retire announces that ref's revision has nothing to index so the embed
// stage drops the chunks of earlier revisions.
func retire(ctx context.Context, b broker.Broker, ref core.DocumentRef) error {
	return broker.Publish(ctx, b, core.ChunkReadyForEmbedding{DocumentRef: ref})
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
