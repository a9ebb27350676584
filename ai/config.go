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

package ai

import (
	"fmt"
	"strings"

	"github.com/poiesic/grimoire/core"
)

// Embedding backends.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Config holds configuration for the embedding backend.
type Config struct {
	// Backend selects the client implementation: "openai" for any
	// OpenAI-compatible API, "ollama" for the native Ollama API.
	Backend string

	// EmbeddingHost is the base URL of the embedding service.
	// Example: "http://localhost:11434"
	EmbeddingHost string

	// EmbeddingModel is the model identifier used for text embeddings.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string

	// APIKey is sent as the bearer token by the openai backend. Local
	// OpenAI-compatible servers accept any value.
	APIKey string

	// Dimensions is the fixed vector length every embedding must have.
	Dimensions int

	// CacheSize is the number of embeddings kept in memory. Zero disables
	// the cache.
	CacheSize int

	// RequestsPerSecond limits calls to the backend. Zero means unlimited.
	RequestsPerSecond float64
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithBackend sets the embedding backend.
func WithBackend(backend string) ConfigOption {
	return func(c *Config) {
		c.Backend = backend
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithDimensions sets the expected vector length.
func WithDimensions(dim int) ConfigOption {
	return func(c *Config) {
		c.Dimensions = dim
	}
}

// WithCacheSize sets the embedding cache size.
func WithCacheSize(size int) ConfigOption {
	return func(c *Config) {
		c.CacheSize = size
	}
}

// WithRequestsPerSecond sets the backend rate limit.
func WithRequestsPerSecond(rps float64) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
	}
}

// DefaultConfig returns a Config for a local Ollama server.
func DefaultConfig() *Config {
	return &Config{
		Backend:        BackendOllama,
		EmbeddingHost:  "http://localhost:11434",
		EmbeddingModel: "nomic-embed-text",
		Dimensions:     768,
		CacheSize:      1024,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithBackend(BackendOpenAI),
//	    WithEmbeddingHost("https://api.openai.com"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	    WithDimensions(1536),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// OpenAI-compatible APIs (Ollama, LocalAI, vLLM) serve under /v1, so the
// suffix is added for the openai backend. The native Ollama client wants the
// bare host.
func (c *Config) Normalize() {
	if c.EmbeddingHost == "" {
		return
	}
	host := strings.TrimSuffix(c.EmbeddingHost, "/")
	switch c.Backend {
	case BackendOpenAI:
		if !strings.HasSuffix(host, "/v1") {
			host += "/v1"
		}
	case BackendOllama:
		host = strings.TrimSuffix(host, "/v1")
	}
	c.EmbeddingHost = host
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.Backend != BackendOpenAI && c.Backend != BackendOllama {
		return fmt.Errorf("ai config: unknown backend %q: %w", c.Backend, core.ErrConfiguration)
	}
	if c.EmbeddingHost == "" {
		return fmt.Errorf("ai config: EmbeddingHost is required: %w", core.ErrConfiguration)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("ai config: EmbeddingModel is required: %w", core.ErrConfiguration)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("ai config: Dimensions must be positive: %w", core.ErrConfiguration)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("ai config: CacheSize cannot be negative: %w", core.ErrConfiguration)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("ai config: RequestsPerSecond cannot be negative: %w", core.ErrConfiguration)
	}
	return nil
}
