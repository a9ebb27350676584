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

package chunk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/core"
)

// Defaults applied by New to zero fields.
const (
	DefaultMaxTokens      = 512
	DefaultEmbedBatchSize = 64
)

// Config configures a Chunker.
type Config struct {
	// MaxTokens bounds every chunk.
	MaxTokens int
	// BufferSize is the number of neighbouring sentences on each side
	// included in a sentence's window.
	BufferSize int
	// ThresholdType and ThresholdAmount derive the split threshold. An
	// amount of zero selects ThresholdType.DefaultAmount.
	ThresholdType   ThresholdType
	ThresholdAmount float64
	// TargetChunkCount, when positive, overrides the threshold: the text is
	// split at the TargetChunkCount-1 largest distances.
	TargetChunkCount int
	// MinChunkLength drops chunks with fewer characters.
	MinChunkLength int
	// EmbedBatchSize bounds the windows sent to the embedder per call.
	EmbedBatchSize int
}

// Dropped describes a chunk discarded for being too short.
type Dropped struct {
	Index  int
	Length int
	Text   string
}

// Chunks is the result of splitting a text. Chunk indices are 0..n-1 after
// drops; Dropped indices refer to positions before renumbering.
type Chunks struct {
	Chunks  []core.TextChunk
	Dropped []Dropped
}

// Chunker splits text at semantic boundaries within a token budget.
type Chunker struct {
	config   Config
	embedder ai.Embedder
	counter  TokenCounter
	logger   *slog.Logger
}

// New validates config and creates a Chunker.
func New(config Config, embedder ai.Embedder, counter TokenCounter, logger *slog.Logger) (*Chunker, error) {
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.ThresholdType == "" {
		config.ThresholdType = Percentile
	}
	if config.ThresholdAmount == 0 {
		config.ThresholdAmount = config.ThresholdType.DefaultAmount()
	}
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = DefaultEmbedBatchSize
	}
	switch {
	case config.MaxTokens < 0:
		return nil, fmt.Errorf("%w: max tokens must be positive", ErrInvalidConfig)
	case config.BufferSize < 0:
		return nil, fmt.Errorf("%w: buffer size cannot be negative", ErrInvalidConfig)
	case !config.ThresholdType.valid():
		return nil, fmt.Errorf("%w: unknown threshold type %q", ErrInvalidConfig, config.ThresholdType)
	case config.ThresholdAmount < 0:
		return nil, fmt.Errorf("%w: threshold amount cannot be negative", ErrInvalidConfig)
	case config.ThresholdType == Percentile && config.ThresholdAmount > 100:
		return nil, fmt.Errorf("%w: percentile must be at most 100", ErrInvalidConfig)
	case config.TargetChunkCount < 0:
		return nil, fmt.Errorf("%w: target chunk count cannot be negative", ErrInvalidConfig)
	case config.MinChunkLength < 0:
		return nil, fmt.Errorf("%w: min chunk length cannot be negative", ErrInvalidConfig)
	case embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if counter == nil {
		counter = WordCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{
		config:   config,
		embedder: embedder,
		counter:  counter,
		logger:   logger.With("component", "chunker"),
	}, nil
}

// Split segments text into sentences, groups them at semantic boundaries,
// enforces the token budget and drops chunks below the minimum length.
func (c *Chunker) Split(ctx context.Context, text string) (*Chunks, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, ErrNoSentences
	}

	splits, err := c.splitPoints(ctx, sentences)
	if err != nil {
		return nil, err
	}

	var pieces []string
	start := 0
	for _, at := range append(splits, len(sentences)-1) {
		pieces = append(pieces, c.pack(sentences[start:at+1])...)
		start = at + 1
	}

	result := &Chunks{}
	for i, piece := range pieces {
		length := utf8.RuneCountInString(piece)
		if length < c.config.MinChunkLength {
			c.logger.Info("dropping short chunk", "index", i, "length", length, "min", c.config.MinChunkLength)
			result.Dropped = append(result.Dropped, Dropped{Index: i, Length: length, Text: piece})
			continue
		}
		result.Chunks = append(result.Chunks, core.TextChunk{
			Id:    uuid.NewString(),
			Index: len(result.Chunks),
			Text:  piece,
		})
	}
	return result, nil
}

// splitPoints returns the sentence indices after which a new group starts.
func (c *Chunker) splitPoints(ctx context.Context, sentences []string) ([]int, error) {
	if len(sentences) < 2 {
		return nil, nil
	}

	vectors, err := c.embedWindows(ctx, windows(sentences, c.config.BufferSize))
	if err != nil {
		return nil, err
	}
	distances := make([]float64, len(vectors)-1)
	for i := range distances {
		distances[i] = 1 - cosine(vectors[i], vectors[i+1])
	}

	if c.config.TargetChunkCount > 0 {
		return largest(distances, c.config.TargetChunkCount-1), nil
	}
	threshold, err := Threshold(c.config.ThresholdType, c.config.ThresholdAmount, distances)
	if err != nil {
		return nil, err
	}
	return breakpoints(distances, threshold), nil
}

func (c *Chunker) embedWindows(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.config.EmbedBatchSize {
		end := min(start+c.config.EmbedBatchSize, len(texts))
		vecs, err := c.embedder.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding sentence windows: %w", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// pack greedily fills chunks with whole sentences up to MaxTokens. A
// sentence over the budget on its own is split by words.
func (c *Chunker) pack(sentences []string) []string {
	var out []string
	var current []string
	for _, s := range sentences {
		if len(current) > 0 && c.counter.Count(strings.Join(append(current, s), " ")) <= c.config.MaxTokens {
			current = append(current, s)
			continue
		}
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
			current = nil
		}
		if c.counter.Count(s) <= c.config.MaxTokens {
			current = []string{s}
			continue
		}
		out = append(out, c.splitWords(s)...)
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, " "))
	}
	return out
}

func (c *Chunker) splitWords(sentence string) []string {
	var out []string
	var current []string
	for _, w := range strings.Fields(sentence) {
		if len(current) > 0 && c.counter.Count(strings.Join(append(current, w), " ")) > c.config.MaxTokens {
			out = append(out, strings.Join(current, " "))
			current = nil
		}
		current = append(current, w)
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, " "))
	}
	return out
}

// windows joins each sentence with up to buffer neighbours on either side.
func windows(sentences []string, buffer int) []string {
	out := make([]string, len(sentences))
	for i := range sentences {
		lo := max(0, i-buffer)
		hi := min(len(sentences), i+buffer+1)
		out[i] = strings.Join(sentences[lo:hi], " ")
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
