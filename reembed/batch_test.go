package reembed

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/poiesic/grimoire/ai/mock"
	"github.com/poiesic/grimoire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(t *testing.T, index interface {
	Get(context.Context, string) (*core.VectorRecord, error)
}, keys ...string) []*core.VectorRecord {
	t.Helper()
	out := make([]*core.VectorRecord, len(keys))
	for i, key := range keys {
		r, err := index.Get(context.Background(), key)
		require.NoError(t, err)
		out[i] = r
	}
	return out
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestBatchProcessor_Process(t *testing.T) {
	ctx := context.Background()
	index := setupTestIndex(t)
	seedMessages(t, index, 3)

	embedder := mock.NewMockEmbedderWithDimension(4)
	bp := NewBatchProcessor(index, embedder, 3, time.Millisecond, nil)

	written, err := bp.Process(ctx, records(t, index, "msg:1", "msg:2", "msg:3"))
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, 1, embedder.CallCount(), "one batched call")

	for _, r := range records(t, index, "msg:1", "msg:2", "msg:3") {
		assert.InDeltaSlice(t, mock.GenerateVector(r.Text, 4), r.Vector, 1e-6)
		assert.Equal(t, "conversation", r.Tags["document_type"], "tags survive")
	}
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimension(4)
	bp := NewBatchProcessor(setupTestIndex(t), embedder, 3, time.Millisecond, nil)

	written, err := bp.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.Zero(t, embedder.CallCount())
}

func TestBatchProcessor_SkipsRecordsWithoutText(t *testing.T) {
	ctx := context.Background()
	index := setupTestIndex(t)
	seedMessages(t, index, 2)
	batch := records(t, index, "msg:1", "msg:2")
	batch[1].Text = ""

	embedder := mock.NewMockEmbedderWithDimension(4)
	written, err := NewBatchProcessor(index, embedder, 1, time.Millisecond, nil).Process(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Equal(t, 1, embedder.TextCount())
}

func TestBatchProcessor_EmbeddingError(t *testing.T) {
	index := setupTestIndex(t)
	seedMessages(t, index, 1)

	embedder := mock.NewMockEmbedderWithDimension(4)
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("backend down")
	}
	_, err := NewBatchProcessor(index, embedder, 2, time.Millisecond, nil).Process(context.Background(), records(t, index, "msg:1"))
	require.Error(t, err)
	assert.Equal(t, 2, embedder.CallCount())
}

func TestBatchProcessor_Retry(t *testing.T) {
	index := setupTestIndex(t)
	seedMessages(t, index, 2)

	embedder := mock.NewMockEmbedderWithDimension(4)
	calls := 0
	embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("temporary")
		}
		if calls == 2 {
			// short answer counts as a transient failure
			return [][]float32{{1, 0, 0, 0}}, nil
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0, 2, 0, 0}
		}
		return out, nil
	}

	written, err := NewBatchProcessor(index, embedder, 3, time.Millisecond, nil).Process(context.Background(), records(t, index, "msg:1", "msg:2"))
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, 3, calls)
}

func TestBatchProcessor_ContextCancellation(t *testing.T) {
	index := setupTestIndex(t)
	seedMessages(t, index, 1)
	batch := records(t, index, "msg:1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBatchProcessor(index, mock.NewMockEmbedderWithDimension(4), 3, time.Millisecond, nil).Process(ctx, batch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatchProcessor_VectorNormalization(t *testing.T) {
	ctx := context.Background()
	index := setupTestIndex(t)
	seedMessages(t, index, 1)

	embedder := mock.NewMockEmbedderWithDimension(4)
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{3, 4, 0, 0}}, nil
	}
	_, err := NewBatchProcessor(index, embedder, 1, time.Millisecond, nil).Process(ctx, records(t, index, "msg:1"))
	require.NoError(t, err)

	r := records(t, index, "msg:1")[0]
	assert.InDelta(t, 1.0, magnitude(r.Vector), 1e-6)
	assert.InDelta(t, 0.6, r.Vector[0], 1e-6)
}

func TestBatchProcessor_KeepsNewerRevision(t *testing.T) {
	ctx := context.Background()
	index := setupTestIndex(t)
	id := core.IDFromContent("rules/core.pdf")
	chunk := func(rev uint64, text string) *core.VectorRecord {
		return &core.VectorRecord{
			Key: core.DocumentKey(id, 0), DocumentID: id, ChunkCount: 1,
			Revision: rev, Text: text, Vector: []float32{1, 0, 0, 0},
		}
	}
	seedMessages(t, index, 1)
	require.NoError(t, index.Upsert(ctx, chunk(1, "old")))
	batch := append(records(t, index, core.DocumentKey(id, 0)), records(t, index, "msg:1")...)

	// the pipeline lands revision 2 while the batch is in flight
	require.NoError(t, index.Upsert(ctx, chunk(2, "new")))

	written, err := NewBatchProcessor(index, mock.NewMockEmbedderWithDimension(4), 1, time.Millisecond, nil).Process(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	r, err := index.Get(ctx, core.DocumentKey(id, 0))
	require.NoError(t, err)
	assert.Equal(t, "new", r.Text)
}
