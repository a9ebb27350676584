package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

// Tags written with every vector record. They must all be declared
// filterable in the index schema.
const (
	TagDocumentType = "document_type"
	TagRuleset      = "ruleset"
	TagFileName     = "file_name"
	TagChunkIndex   = "chunk_index"
	TagRole         = "role"
	TagGameID       = "game_id"
)

// IndexWriter upserts embedded chunks and conversation turns.
type IndexWriter struct {
	index storage.VectorIndex
	now   func() time.Time
}

// NewIndexWriter creates a writer for index.
func NewIndexWriter(index storage.VectorIndex) (*IndexWriter, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	return &IndexWriter{index: index, now: time.Now}, nil
}

// WriteChunk stores a document chunk under DocumentKey(document, index).
func (w *IndexWriter) WriteChunk(ctx context.Context, msg core.ChunkReadyForEmbedding, vector []float32) error {
	record := &core.VectorRecord{
		Key:         core.DocumentKey(msg.DocumentID, msg.ChunkIndex),
		DocumentID:  msg.DocumentID,
		ChunkIndex:  msg.ChunkIndex,
		ChunkCount:  msg.ChunkCount,
		Revision:    msg.Revision,
		ContentHash: msg.ContentHash,
		Text:        msg.Text,
		Vector:      ai.NormalizeVector(vector),
		Tags: map[string]string{
			TagDocumentType: string(msg.Kind),
			TagRuleset:      msg.RulesetID,
			TagFileName:     msg.FileName,
			TagChunkIndex:   strconv.Itoa(msg.ChunkIndex),
		},
		UpdatedAt: w.now().UTC(),
	}
	if err := w.index.Upsert(ctx, record); err != nil {
		return fmt.Errorf("indexing %s: %w", record.Key, err)
	}
	return nil
}

// Retire removes the chunks of ref's document older than ref.Revision.
func (w *IndexWriter) Retire(ctx context.Context, ref core.DocumentRef) (int, error) {
	removed, err := w.index.SupersedeDocument(ctx, ref.DocumentID, ref.Revision)
	if err != nil {
		return 0, fmt.Errorf("retiring document %d: %w", ref.DocumentID, err)
	}
	return removed, nil
}

// WriteConversation stores a conversation turn under MessageKey(id).
func (w *IndexWriter) WriteConversation(ctx context.Context, msg core.ConversationMessageReadyForEmbedding, vector []float32) error {
	record := &core.VectorRecord{
		Key:        core.MessageKey(msg.MessageID),
		ChunkCount: 1,
		Text:       msg.Content,
		Vector:     ai.NormalizeVector(vector),
		Tags: map[string]string{
			TagDocumentType: string(core.DocumentKindConversation),
			TagRole:         string(msg.Role),
			TagGameID:       strconv.FormatInt(msg.GameID, 10),
		},
		UpdatedAt: w.now().UTC(),
	}
	if err := w.index.Upsert(ctx, record); err != nil {
		return fmt.Errorf("indexing %s: %w", record.Key, err)
	}
	return nil
}
