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

package badger

import (
	"log/slog"

	"github.com/poiesic/grimoire/core"
)

// TestSchema is a small collection schema for tests.
var TestSchema = core.IndexSchema{
	Collection:     "test",
	Model:          "mock-embed",
	Dimension:      4,
	FilterableTags: []string{"document_type", "ruleset", "file_name", "chunk_index", "role", "game_id"},
}

// NewMemoryStores creates in-memory stores for testing.
// Caller must close the returned stores when done.
func NewMemoryStores(schema core.IndexSchema) (*Stores, error) {
	return OpenStores("", schema, slog.Default())
}
