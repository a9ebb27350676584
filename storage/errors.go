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

package storage

import (
	"errors"
	"fmt"

	"github.com/poiesic/grimoire/core"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = fmt.Errorf("record %w", core.ErrNotFound)

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = fmt.Errorf("storage is closed: %w", core.ErrTransient)

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates that data was truncated during reading.
	ErrTruncatedData = errors.New("truncated data")

	// ErrStaleRevision indicates an upsert carried an older document revision
	// than the one already indexed.
	ErrStaleRevision = fmt.Errorf("stale document revision: %w", core.ErrMalformed)

	// ErrUndeclaredTag indicates a record carried a tag the collection schema
	// does not declare as filterable.
	ErrUndeclaredTag = fmt.Errorf("undeclared tag: %w", core.ErrConfiguration)

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// collection's dimension.
	ErrDimensionMismatch = fmt.Errorf("vector dimension mismatch: %w", core.ErrConfiguration)

	// ErrSchemaMismatch indicates the stored collection schema differs from
	// the configured one.
	ErrSchemaMismatch = fmt.Errorf("index schema mismatch: %w", core.ErrConfiguration)
)
