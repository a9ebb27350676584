package ai

import (
	"testing"

	"github.com/poiesic/grimoire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, BackendOllama, cfg.Backend)
	assert.Equal(t, "http://localhost:11434", cfg.EmbeddingHost)
	assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
	assert.Equal(t, 768, cfg.Dimensions)
	require.NoError(t, cfg.Validate())
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()

		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithBackend(BackendOpenAI),
			WithEmbeddingHost("http://custom:8080/v1"),
			WithEmbeddingModel("text-embedding-3-small"),
			WithAPIKey("sk-test"),
			WithDimensions(1536),
			WithCacheSize(10),
			WithRequestsPerSecond(2.5),
		)

		assert.Equal(t, BackendOpenAI, cfg.Backend)
		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, "sk-test", cfg.APIKey)
		assert.Equal(t, 1536, cfg.Dimensions)
		assert.Equal(t, 10, cfg.CacheSize)
		assert.Equal(t, 2.5, cfg.RequestsPerSecond)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		host     string
		expected string
	}{
		{"openai already has /v1", BackendOpenAI, "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"openai missing /v1", BackendOpenAI, "http://localhost:11434", "http://localhost:11434/v1"},
		{"openai trailing slash", BackendOpenAI, "http://localhost:11434/", "http://localhost:11434/v1"},
		{"ollama bare host", BackendOllama, "http://localhost:11434", "http://localhost:11434"},
		{"ollama strips /v1", BackendOllama, "http://localhost:11434/v1", "http://localhost:11434"},
		{"ollama trailing slash", BackendOllama, "http://localhost:11434/", "http://localhost:11434"},
		{"empty host", BackendOpenAI, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Backend: tt.backend, EmbeddingHost: tt.host}

			cfg.Normalize()

			assert.Equal(t, tt.expected, cfg.EmbeddingHost)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Backend:        BackendOpenAI,
			EmbeddingHost:  "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			Dimensions:     768,
		}
	}

	t.Run("valid config", func(t *testing.T) {
		cfg := valid()

		require.NoError(t, cfg.Validate())
		// Should also normalize
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "bedrock" }, "backend"},
		{"missing host", func(c *Config) { c.EmbeddingHost = "" }, "EmbeddingHost"},
		{"missing model", func(c *Config) { c.EmbeddingModel = "" }, "EmbeddingModel"},
		{"zero dimensions", func(c *Config) { c.Dimensions = 0 }, "Dimensions"},
		{"negative cache size", func(c *Config) { c.CacheSize = -1 }, "CacheSize"},
		{"negative rate", func(c *Config) { c.RequestsPerSecond = -1 }, "RequestsPerSecond"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
