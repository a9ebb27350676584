package grimoire

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/grimoire/ai/mock"
	"github.com/poiesic/grimoire/broker"
	"github.com/poiesic/grimoire/broker/memory"
	"github.com/poiesic/grimoire/chunk"
	"github.com/poiesic/grimoire/config"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/ingestion"
	"github.com/poiesic/grimoire/reembed"
	"github.com/poiesic/grimoire/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "core"), 0o755))

	cfg := config.NewDefaultConfig()
	cfg.Sources.Roots = []string{root}
	cfg.Sources.Extensions = []string{".md", ".txt"}
	cfg.Sources.ScanInterval = time.Hour
	cfg.Chunking.Tokenizer = config.TokenizerWords
	cfg.Chunking.MinChunkLength = 0
	cfg.Embedding.Model = "mock-embed"
	cfg.Embedding.Dimensions = 4
	cfg.Storage.Path = ""
	cfg.Broker.PoolSize = 2
	cfg.Broker.BaseDelay = time.Millisecond
	cfg.Broker.MaxDelay = 10 * time.Millisecond
	cfg.Broker.Grace = time.Second
	return cfg
}

func openRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{
		WithEmbedder(mock.NewMockEmbedderWithDimension(cfg.Embedding.Dimensions)),
		WithTokenCounter(chunk.WordCounter{}),
	}, opts...)
	rt, err := Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Broker.Driver = "kafka"
	_, err := Open(cfg)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestOpen_SQLiteMetadata(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.MetadataDriver = config.MetadataSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "meta.db")

	rt := openRuntime(t, cfg)
	assert.IsType(t, &sqlite.DocumentRepository{}, rt.Documents())
	_, err := rt.Detector()
	require.NoError(t, err)
}

func TestOpen_DimensionGuard(t *testing.T) {
	cfg := testConfig(t)
	rt := openRuntime(t, cfg, WithEmbedder(mock.NewMockEmbedderWithDimension(8)))

	_, err := rt.Embedder().EmbedText(context.Background(), "hello")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestDecorate(t *testing.T) {
	backend := mock.NewMockEmbedderWithDimension(4)
	e := Decorate(backend, config.EmbeddingConfig{Dimensions: 4, CacheSize: 8, RequestsPerSecond: 1000})

	ctx := context.Background()
	_, err := e.EmbedText(ctx, "same")
	require.NoError(t, err)
	_, err = e.EmbedText(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.CallCount(), "second call served from cache")
}

func TestPipeline_StageSelection(t *testing.T) {
	rt := openRuntime(t, testConfig(t))

	_, err := rt.Pipeline(ingestion.StageEmbed, ingestion.ConversationStageName(core.RoleUser))
	require.NoError(t, err)

	_, err = rt.Pipeline("transcode")
	assert.ErrorIs(t, err, ingestion.ErrUnknownStage)
}

func TestRuntime_RunIndexesAndSearches(t *testing.T) {
	cfg := testConfig(t)
	b := memory.New(nil)
	defer b.Close()
	rt := openRuntime(t, cfg, WithBroker(b))

	path := filepath.Join(cfg.Sources.Roots[0], "core", "dragons.md")
	require.NoError(t, os.WriteFile(path, []byte("Dragons breathe fire in a wide cone. Dragons hoard gold in deep lairs."), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := rt.Index().Count(context.Background())
		return err == nil && n > 0 && b.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, rt.Say(context.Background(), core.ConversationMessageReadyForEmbedding{
		MessageID: 1, GameID: 1, Role: core.RoleUser, Content: "Where do dragons sleep?",
	}))
	require.Eventually(t, func() bool {
		_, err := rt.Index().Get(context.Background(), core.MessageKey(1))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	searcher, err := rt.Searcher()
	require.NoError(t, err)
	results, err := searcher.FindSimilar(context.Background(), "breathe fire", nil, 5)
	require.NoError(t, err)
	var found bool
	for _, r := range results {
		if strings.Contains(r.Record.Text, "breathe fire") {
			found = true
			assert.Equal(t, "core", r.Record.Tags["ruleset"])
		}
	}
	assert.True(t, found, "verbatim match is returned")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestRuntime_RunFailsWhenBrokerDropsStream(t *testing.T) {
	cfg := testConfig(t)
	b := memory.New(nil)
	rt := openRuntime(t, cfg, WithBroker(b))

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	// Let the pipeline bind before pulling the broker away.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrTransient)
		assert.ErrorIs(t, err, broker.ErrDeliveriesClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime kept running without a delivery stream")
	}
}

func TestRuntime_Reembed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "db")
	rt, err := Open(cfg, WithEmbedder(mock.NewMockEmbedderWithDimension(4)), WithTokenCounter(chunk.WordCounter{}))
	require.NoError(t, err)

	ctx := context.Background()
	writer, err := ingestion.NewIndexWriter(rt.Index())
	require.NoError(t, err)
	require.NoError(t, writer.WriteConversation(ctx, core.ConversationMessageReadyForEmbedding{
		MessageID: 7, GameID: 1, Role: core.RoleAssistant, Content: "The tavern is quiet.",
	}, []float32{1, 0, 0, 0}))
	require.NoError(t, rt.Close())

	cfg.Embedding.Model = "mock-embed-large"
	cfg.Embedding.Dimensions = 6
	_, err = Open(cfg, WithEmbedder(mock.NewMockEmbedderWithDimension(6)), WithTokenCounter(chunk.WordCounter{}))
	require.Error(t, err, "model change requires migration")

	rt = openRuntime(t, cfg, WithEmbedder(mock.NewMockEmbedderWithDimension(6)), WithMigration())
	r, err := rt.Reembedder(&reembed.Config{BatchSize: 10, ReportInterval: 10, MaxRetries: 1, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)
	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reembedded)

	rec, err := rt.Index().Get(ctx, core.MessageKey(7))
	require.NoError(t, err)
	assert.Len(t, rec.Vector, 6)

	status, err := rt.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Records)
	assert.Equal(t, "mock-embed-large", status.Schema.Model)
	require.Len(t, status.Checkpoints, 1)
	assert.Equal(t, reembed.CheckpointName, status.Checkpoints[0].ProcessorType)
}
