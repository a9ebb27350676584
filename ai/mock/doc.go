// Package mock provides a deterministic ai.Embedder for tests that must not
// depend on an embedding backend.
package mock
