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

// Package ai provides the embedding abstraction used by grimoire.
//
// Embedder turns text into fixed-length float vectors. Backends live in
// sub-packages:
//
//   - ai/openai: OpenAI-compatible APIs via langchaingo
//   - ai/ollama: the native Ollama API
//   - ai/mock: deterministic vectors for tests
//
// Decorators wrap any Embedder:
//
//   - Guard checks the configured dimensionality and marks backend failures
//     as transient so the consumer harness redelivers the message
//   - Cache keeps recent embeddings in an LRU keyed by text digest
//   - RateLimited throttles backend calls
//
// A vector generated by one model is never comparable to one generated by
// another. Changing Config.EmbeddingModel or Config.Dimensions requires a full
// reindex, see package reembed.
//
// Public backend constructors return concrete types or ai.Embedder; the mock
// returns *mock.MockEmbedder so tests can inspect CallCount.
package ai
