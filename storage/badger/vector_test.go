package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkRecord(docID core.ID, index, count int, revision uint64, vector []float32) *core.VectorRecord {
	return &core.VectorRecord{
		Key:        core.DocumentKey(docID, index),
		DocumentID: docID,
		ChunkIndex: index,
		ChunkCount: count,
		Revision:   revision,
		Text:       fmt.Sprintf("chunk %d rev %d", index, revision),
		Vector:     vector,
		Tags:       map[string]string{"ruleset": "rules", "chunk_index": fmt.Sprint(index)},
	}
}

func TestUpsert_OverwritesByKey(t *testing.T) {
	index := newTestStores(t).Index
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, chunkRecord(1, 0, 1, 1, []float32{1, 0, 0, 0})))
	require.NoError(t, index.Upsert(ctx, chunkRecord(1, 0, 1, 1, []float32{0, 1, 0, 0})))

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := index.Get(ctx, core.DocumentKey(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, got.Vector)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestUpsert_RejectsStaleRevision(t *testing.T) {
	index := newTestStores(t).Index
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, chunkRecord(1, 0, 2, 2, []float32{1, 0, 0, 0})))

	err := index.Upsert(ctx, chunkRecord(1, 0, 2, 1, []float32{0, 1, 0, 0}))
	assert.ErrorIs(t, err, storage.ErrStaleRevision)
	assert.ErrorIs(t, err, core.ErrMalformed)

	// A late chunk of the old revision at an index the new one lacks is
	// rejected too.
	err = index.Upsert(ctx, chunkRecord(1, 5, 6, 1, []float32{0, 1, 0, 0}))
	assert.ErrorIs(t, err, storage.ErrStaleRevision)

	got, err := index.Get(ctx, core.DocumentKey(1, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Revision)
}

func TestUpsert_PrunesChunksBeyondNewCount(t *testing.T) {
	index := newTestStores(t).Index
	ctx := context.Background()
	v := []float32{1, 0, 0, 0}

	for i := range 4 {
		require.NoError(t, index.Upsert(ctx, chunkRecord(1, i, 4, 1, v)))
	}
	require.NoError(t, index.Upsert(ctx, chunkRecord(2, 0, 1, 1, v)))

	require.NoError(t, index.Upsert(ctx, chunkRecord(1, 0, 2, 2, v)))
	require.NoError(t, index.Upsert(ctx, chunkRecord(1, 1, 2, 2, v)))

	var keys []string
	require.NoError(t, index.ForEach(ctx, func(r *core.VectorRecord) error {
		keys = append(keys, r.Key)
		return nil
	}))
	assert.ElementsMatch(t, []string{"doc:1:0", "doc:1:1", "doc:2:0"}, keys)
}

func TestSupersedeDocument_RemovesOlderRevisions(t *testing.T) {
	index := newTestStores(t).Index
	ctx := context.Background()
	v := []float32{1, 0, 0, 0}

	for i := range 3 {
		require.NoError(t, index.Upsert(ctx, chunkRecord(1, i, 3, 1, v)))
	}
	require.NoError(t, index.Upsert(ctx, chunkRecord(2, 0, 1, 1, v)))

	removed, err := index.SupersedeDocument(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	var keys []string
	require.NoError(t, index.ForEach(ctx, func(r *core.VectorRecord) error {
		keys = append(keys, r.Key)
		return nil
	}))
	assert.Equal(t, []string{"doc:2:0"}, keys)

	removed, err = index.SupersedeDocument(ctx, 1, 2)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSupersedeDocument_RejectsStaleRevision(t *testing.T) {
	index := newTestStores(t).Index
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, chunkRecord(1, 0, 1, 3, []float32{1, 0, 0, 0})))

	_, err := index.SupersedeDocument(ctx, 1, 2)
	assert.ErrorIs(t, err, storage.ErrStaleRevision)

	_, err = index.SupersedeDocument(ctx, 0, 2)
	assert.ErrorIs(t, err, core.ErrMalformed)

	_, err = index.Get(ctx, core.DocumentKey(1, 0))
	assert.NoError(t, err)
}

func TestUpsert_Validation(t *testing.T) {
	index := newTestStores(t).Index
	ctx := context.Background()

	short := chunkRecord(1, 0, 1, 1, []float32{1, 0})
	err := index.Upsert(ctx, short)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	tagged := chunkRecord(1, 0, 1, 1, []float32{1, 0, 0, 0})
	tagged.Tags["author"] = "someone"
	err = index.Upsert(ctx, tagged)
	assert.ErrorIs(t, err, storage.ErrUndeclaredTag)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQuery_FiltersAndRanks(t *testing.T) {
	index := newTestStores(t).Index
	ctx := context.Background()

	user := &core.VectorRecord{
		Key: core.MessageKey(1), Text: "user turn", Vector: []float32{1, 0, 0, 0},
		Tags: map[string]string{"role": "user", "game_id": "7"},
	}
	assistant := &core.VectorRecord{
		Key: core.MessageKey(2), Text: "assistant turn", Vector: []float32{0.9, 0.1, 0, 0},
		Tags: map[string]string{"role": "assistant", "game_id": "7"},
	}
	other := &core.VectorRecord{
		Key: core.MessageKey(3), Text: "other game", Vector: []float32{0, 1, 0, 0},
		Tags: map[string]string{"role": "user", "game_id": "8"},
	}
	require.NoError(t, index.Upsert(ctx, user, assistant, other))

	results, err := index.Query(ctx, []float32{1, 0, 0, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "msg:1", results[0].Record.Key)
	assert.Equal(t, "msg:2", results[1].Record.Key)
	assert.Equal(t, "msg:3", results[2].Record.Key)

	results, err = index.Query(ctx, []float32{1, 0, 0, 0}, storage.Filter{"game_id": "7"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "msg:1", results[0].Record.Key)

	_, err = index.Query(ctx, []float32{1, 0, 0, 0}, storage.Filter{"author": "x"}, 1)
	assert.ErrorIs(t, err, storage.ErrUndeclaredTag)

	_, err = index.Query(ctx, []float32{1, 0}, nil, 1)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestGet_NotFound(t *testing.T) {
	index := newTestStores(t).Index
	_, err := index.Get(context.Background(), "doc:1:0")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpenVectorIndex_SchemaMismatch(t *testing.T) {
	stores := newTestStores(t)

	changed := TestSchema
	changed.Model = "other-model"
	changed.Dimension = 8

	_, err := OpenVectorIndex(stores.Backend, changed)
	assert.ErrorIs(t, err, storage.ErrSchemaMismatch)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	migrated, err := OpenVectorIndex(stores.Backend, changed, WithMigration())
	require.NoError(t, err)
	assert.Equal(t, 8, migrated.Schema().Dimension)

	// Once migrated, the old schema is the mismatch.
	_, err = OpenVectorIndex(stores.Backend, TestSchema)
	assert.ErrorIs(t, err, storage.ErrSchemaMismatch)
}

func TestOpenVectorIndex_RequiresSchema(t *testing.T) {
	stores := newTestStores(t)
	_, err := OpenVectorIndex(stores.Backend, core.IndexSchema{Collection: "x"})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestQuery_SkipsRecordsAwaitingMigration(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Index.Upsert(ctx, chunkRecord(1, 0, 1, 1, []float32{1, 0, 0, 0})))

	changed := TestSchema
	changed.Model = "wider"
	changed.Dimension = 2
	migrated, err := OpenVectorIndex(stores.Backend, changed, WithMigration())
	require.NoError(t, err)

	results, err := migrated.Query(ctx, []float32{1, 0}, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	count, err := migrated.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
