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

// Package storage provides the storage abstraction layer for grimoire.
//
// This package defines repository interfaces that decouple storage implementation
// from pipeline logic. It allows different storage backends (BadgerDB, SQLite,
// in-memory) to be used interchangeably.
//
// # Architecture
//
//   - DocumentRepository: the change detector's per-file metadata
//   - VectorIndex: embedded chunks and conversation turns, keyed and tagged
//   - BlobStore: retained document binaries
//   - CheckpointRepository: last-run markers for background processors
//
// # Consistency
//
// DocumentRepository.ReconcileDocument publishes inside the metadata
// transaction, so a stored hash always has a crack request behind it.
// VectorIndex.Upsert overwrites by key and refuses records older than the
// document revision it already holds; the index therefore never moves
// backwards when messages are redelivered out of order.
//
// # Usage
//
// Open every badger store at once:
//
//	stores, err := badger.OpenStores("/path/to/db", schema, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stores.Close()
//
// Use in tests with in-memory storage:
//
//	stores, err := badger.NewMemoryStores(badger.TestSchema)
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
