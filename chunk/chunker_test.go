package chunk

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/ai/mock"
	"github.com/poiesic/grimoire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topicEmbedder maps each text to a unit axis chosen by the first topic
// word it contains, so sentences on the same topic have distance zero.
func topicEmbedder() *mock.MockEmbedder {
	topics := []string{"dragon", "sword", "magic", "tavern"}
	m := mock.NewMockEmbedderWithDimension(len(topics))
	m.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			vec := make([]float32, len(topics))
			for j, topic := range topics {
				if strings.Contains(strings.ToLower(text), topic) {
					vec[j] = 1
					break
				}
			}
			out[i] = vec
		}
		return out, nil
	}
	return m
}

const threeTopics = "The dragon sleeps in its lair. Every dragon hoards gold. A dragon fears nothing. " +
	"The sword is forged in fire. A sword needs a sharp edge. Each sword has a name. " +
	"Magic flows from the stars. Magic has a price. Wild magic is dangerous."

func newChunker(t *testing.T, cfg Config, embedder ai.Embedder) *Chunker {
	t.Helper()
	c, err := New(cfg, embedder, WordCounter{}, nil)
	require.NoError(t, err)
	return c
}

func texts(chunks []core.TextChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestSplit_TopicBoundaries(t *testing.T) {
	for _, cfg := range []Config{
		{MaxTokens: 100, ThresholdType: StandardDeviation, ThresholdAmount: 1},
		{MaxTokens: 100, ThresholdType: Percentile, ThresholdAmount: 50},
		{MaxTokens: 100, ThresholdType: Interquartile, ThresholdAmount: 1},
	} {
		t.Run(string(cfg.ThresholdType), func(t *testing.T) {
			c := newChunker(t, cfg, topicEmbedder())

			res, err := c.Split(context.Background(), threeTopics)
			require.NoError(t, err)

			require.Len(t, res.Chunks, 3)
			assert.True(t, strings.HasPrefix(res.Chunks[0].Text, "The dragon"))
			assert.True(t, strings.HasPrefix(res.Chunks[1].Text, "The sword"))
			assert.True(t, strings.HasPrefix(res.Chunks[2].Text, "Magic flows"))
			for i, chunk := range res.Chunks {
				assert.Equal(t, i, chunk.Index)
				assert.NotEmpty(t, chunk.Id)
			}
			assert.Empty(t, res.Dropped)
		})
	}
}

func TestSplit_PreservesSentences(t *testing.T) {
	c := newChunker(t, Config{MaxTokens: 12, ThresholdType: StandardDeviation, ThresholdAmount: 1}, topicEmbedder())

	res, err := c.Split(context.Background(), threeTopics)
	require.NoError(t, err)

	assert.Equal(t, strings.Join(SplitSentences(threeTopics), " "), strings.Join(texts(res.Chunks), " "))
	for _, chunk := range res.Chunks {
		assert.LessOrEqual(t, WordCounter{}.Count(chunk.Text), 12)
	}
}

func TestSplit_TargetChunkCount(t *testing.T) {
	// a flat embedder gives every gap the same distance
	flat := mock.NewMockEmbedderWithDimension(4)
	flat.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1, 0, 0, 0}
		}
		return out, nil
	}

	for _, target := range []int{1, 2, 3, 5} {
		c := newChunker(t, Config{MaxTokens: 1000, TargetChunkCount: target}, flat)
		res, err := c.Split(context.Background(), threeTopics)
		require.NoError(t, err)
		assert.Len(t, res.Chunks, target)
	}

	// the target picks the real topic boundaries when they exist
	c := newChunker(t, Config{MaxTokens: 1000, TargetChunkCount: 2}, topicEmbedder())
	res, err := c.Split(context.Background(), threeTopics)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.True(t, strings.HasPrefix(res.Chunks[1].Text, "The sword"))
}

func TestSplit_OversizedSentenceSplitsByWords(t *testing.T) {
	c := newChunker(t, Config{MaxTokens: 5}, topicEmbedder())
	text := "one two three four five six seven eight nine ten eleven twelve"

	res, err := c.Split(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"one two three four five",
		"six seven eight nine ten",
		"eleven twelve",
	}, texts(res.Chunks))
}

func TestSplit_DropsShortChunks(t *testing.T) {
	c := newChunker(t, Config{MaxTokens: 100, TargetChunkCount: 3, MinChunkLength: 20}, topicEmbedder())
	text := "The dragon sleeps soundly in its lair. A sword! Magic flows from the distant stars."

	res, err := c.Split(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, res.Dropped, 1)
	assert.Equal(t, 1, res.Dropped[0].Index)
	assert.Equal(t, len("A sword!"), res.Dropped[0].Length)

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, 0, res.Chunks[0].Index)
	assert.Equal(t, 1, res.Chunks[1].Index)
	assert.Equal(t, "Magic flows from the distant stars.", res.Chunks[1].Text)
}

func TestSplit_SingleSentenceSkipsEmbedding(t *testing.T) {
	m := topicEmbedder()
	c := newChunker(t, Config{MaxTokens: 100}, m)

	res, err := c.Split(context.Background(), "Only one sentence here.")
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 1)
	assert.Equal(t, 0, m.CallCount())
}

func TestSplit_BatchesWindows(t *testing.T) {
	m := topicEmbedder()
	c := newChunker(t, Config{MaxTokens: 100, EmbedBatchSize: 4, BufferSize: 1}, m)

	_, err := c.Split(context.Background(), threeTopics)
	require.NoError(t, err)
	assert.Equal(t, 3, m.CallCount(), "nine windows in batches of four")
	assert.Equal(t, 9, m.TextCount())
}

func TestSplit_Errors(t *testing.T) {
	ctx := context.Background()

	c := newChunker(t, Config{MaxTokens: 100}, topicEmbedder())
	_, err := c.Split(ctx, "  \n\n ")
	assert.ErrorIs(t, err, ErrNoSentences)
	assert.ErrorIs(t, err, core.ErrMalformed)

	failing := mock.NewMockEmbedderWithDimension(4)
	failing.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, ai.ErrBackendUnavailable
	}
	c = newChunker(t, Config{MaxTokens: 100}, failing)
	_, err = c.Split(ctx, threeTopics)
	assert.ErrorIs(t, err, core.ErrTransient)
}

func TestNew_Validation(t *testing.T) {
	embedder := topicEmbedder()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative max tokens", Config{MaxTokens: -1}},
		{"negative buffer", Config{BufferSize: -1}},
		{"unknown threshold", Config{ThresholdType: "median"}},
		{"negative amount", Config{ThresholdAmount: -1}},
		{"percentile over 100", Config{ThresholdType: Percentile, ThresholdAmount: 101}},
		{"negative target", Config{TargetChunkCount: -1}},
		{"negative min length", Config{MinChunkLength: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, embedder, nil, nil)
			assert.ErrorIs(t, err, core.ErrConfiguration)
		})
	}

	_, err := New(Config{}, nil, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	c, err := New(Config{}, embedder, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokens, c.config.MaxTokens)
	assert.Equal(t, 95.0, c.config.ThresholdAmount)
}
