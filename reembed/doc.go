// Package reembed rebuilds the vector index after the embedding model
// changes. Every stored record keeps its key, text and tags and receives a
// vector from the new model; the collection is opened for migration so the
// new model and dimension replace the stored schema.
//
// Records are processed in batches with retries on transient embedding
// failures, and progress is written to a terminal-friendly writer.
package reembed
