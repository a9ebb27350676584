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

package config

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Embedding backends.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Metadata store drivers.
const (
	MetadataBadger = "badger"
	MetadataSQLite = "sqlite"
)

// Broker drivers.
const (
	BrokerMemory = "memory"
	BrokerAMQP   = "amqp"
)

// Chunk threshold strategies.
const (
	ThresholdPercentile        = "percentile"
	ThresholdStandardDeviation = "standard_deviation"
	ThresholdInterquartile     = "interquartile"
)

// Tokenizers.
const (
	TokenizerTiktoken = "tiktoken"
	TokenizerWords    = "words"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Sources   SourcesConfig     `yaml:"sources"`
	Crack     CrackConfig       `yaml:"crack"`
	Chunking  ChunkingConfig    `yaml:"chunking"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	Storage   StorageConfig     `yaml:"storage"`
	Index     IndexConfig       `yaml:"index"`
	Broker    BrokerConfig      `yaml:"broker"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Sources.Validate(); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := c.Broker.Validate(); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In("text", "json")),
	)
}

// SourcesConfig lists the directories the change detector scans.
type SourcesConfig struct {
	Roots         []string      `yaml:"roots"`
	Extensions    []string      `yaml:"extensions"`
	ScanInterval  time.Duration `yaml:"scan_interval"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// Validate validates the sources configuration.
func (c *SourcesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Roots, validation.Required),
		validation.Field(&c.Extensions, validation.Required),
		validation.Field(&c.ScanInterval, validation.Required, validation.Min(time.Second)),
	)
}

// CrackConfig configures text extraction.
type CrackConfig struct {
	PDFToText    string `yaml:"pdftotext"`
	RetainBinary bool   `yaml:"retain_binary"`
}

// ChunkingConfig configures the semantic chunker.
type ChunkingConfig struct {
	MaxTokens        int     `yaml:"max_tokens"`
	BufferSize       int     `yaml:"buffer_size"`
	ThresholdType    string  `yaml:"threshold_type"`
	// ThresholdAmount of 0 selects the strategy's default.
	ThresholdAmount  float64 `yaml:"threshold_amount"`
	TargetChunkCount int     `yaml:"target_chunk_count"`
	MinChunkLength   int     `yaml:"min_chunk_length"`
	Tokenizer        string  `yaml:"tokenizer"`
}

// Validate validates the chunking configuration.
func (c *ChunkingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxTokens, validation.Required, validation.Min(1)),
		validation.Field(&c.BufferSize, validation.Min(0)),
		validation.Field(&c.ThresholdType, validation.Required,
			validation.In(ThresholdPercentile, ThresholdStandardDeviation, ThresholdInterquartile)),
		validation.Field(&c.ThresholdAmount, validation.Min(0.0)),
		validation.Field(&c.TargetChunkCount, validation.Min(0)),
		validation.Field(&c.MinChunkLength, validation.Min(0)),
		validation.Field(&c.Tokenizer, validation.In(TokenizerTiktoken, TokenizerWords)),
	)
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Backend           string  `yaml:"backend"`
	Host              string  `yaml:"host"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	Dimensions        int     `yaml:"dimensions"`
	CacheSize         int     `yaml:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendOpenAI, BackendOllama)),
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Dimensions, validation.Required, validation.Min(1)),
		validation.Field(&c.CacheSize, validation.Min(0)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
	)
}

// StorageConfig locates the stores.
type StorageConfig struct {
	// Path is the badger directory; empty keeps everything in memory.
	Path           string `yaml:"path"`
	MetadataDriver string `yaml:"metadata_driver"`
	SQLitePath     string `yaml:"sqlite_path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MetadataDriver, validation.Required, validation.In(MetadataBadger, MetadataSQLite)),
		validation.Field(&c.SQLitePath, validation.When(c.MetadataDriver == MetadataSQLite, validation.Required)),
	)
}

// IndexConfig describes the vector collection.
type IndexConfig struct {
	Collection     string   `yaml:"collection"`
	FilterableTags []string `yaml:"filterable_tags"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Collection, validation.Required),
	)
}

// BrokerConfig configures the message broker and consumer harness.
type BrokerConfig struct {
	Driver      string        `yaml:"driver"`
	URL         string        `yaml:"url"`
	Exchange    string        `yaml:"exchange"`
	Prefetch    int           `yaml:"prefetch"`
	PoolSize    int           `yaml:"pool_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Grace       time.Duration `yaml:"shutdown_grace"`
}

// Validate validates the broker configuration.
func (c *BrokerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(BrokerMemory, BrokerAMQP)),
		validation.Field(&c.URL, validation.When(c.Driver == BrokerAMQP, validation.Required)),
		validation.Field(&c.Exchange, validation.Required),
		validation.Field(&c.Prefetch, validation.Min(0)),
		validation.Field(&c.PoolSize, validation.Min(0)),
		validation.Field(&c.MaxAttempts, validation.Min(0)),
	)
}

// DefaultFilterableTags are the tags the index writer emits.
var DefaultFilterableTags = []string{"document_type", "ruleset", "file_name", "chunk_index", "role", "game_id"}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: "text",
		},
		Sources: SourcesConfig{
			Roots:         []string{"./content"},
			Extensions:    []string{".txt", ".md", ".pdf", ".docx"},
			ScanInterval:  5 * time.Minute,
			WatchDebounce: 500 * time.Millisecond,
		},
		Crack: CrackConfig{
			PDFToText: "pdftotext",
		},
		Chunking: ChunkingConfig{
			MaxTokens:      512,
			BufferSize:     1,
			ThresholdType:  ThresholdPercentile,
			MinChunkLength: 20,
			Tokenizer:      TokenizerTiktoken,
		},
		Embedding: EmbeddingConfig{
			Backend:    BackendOllama,
			Host:       "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			CacheSize:  4096,
		},
		Storage: StorageConfig{
			Path:           "./grimoire.db",
			MetadataDriver: MetadataBadger,
		},
		Index: IndexConfig{
			Collection:     "grimoire",
			FilterableTags: DefaultFilterableTags,
		},
		Broker: BrokerConfig{
			Driver:      BrokerMemory,
			Exchange:    "grimoire",
			Prefetch:    8,
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			Grace:       10 * time.Second,
		},
	}
}
