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

package search

import (
	"fmt"

	"github.com/poiesic/grimoire/core"
)

var (
	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = fmt.Errorf("vector index required: %w", core.ErrConfiguration)

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = fmt.Errorf("embedder required: %w", core.ErrConfiguration)

	// ErrInvalidMinScore is returned for a minimum score outside [-1, 1].
	ErrInvalidMinScore = fmt.Errorf("min score must be within [-1, 1]: %w", core.ErrConfiguration)
)
