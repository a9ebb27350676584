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

package reembed

import (
	"context"
	"errors"

	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

const (
	// DefaultBatchSize is the default number of records to fetch in each batch
	DefaultBatchSize = 100
)

// RecordIterator walks the vector index in batches.
type RecordIterator struct {
	index     storage.VectorIndex
	batchSize int
	filter    storage.Filter
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records per batch; <= 0 selects DefaultBatchSize
// filter: only records whose tags match are visited; nil visits all
func NewRecordIterator(index storage.VectorIndex, batchSize int, filter storage.Filter) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &RecordIterator{
		index:     index,
		batchSize: batchSize,
		filter:    filter,
	}
}

// Keys returns the keys of every matching record in key order.
func (it *RecordIterator) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := it.index.ForEach(ctx, func(record *core.VectorRecord) error {
		if it.matches(record) {
			keys = append(keys, record.Key)
		}
		return nil
	})
	return keys, err
}

// ForEach calls fn with batches of matching records. Keys are snapshotted
// first and records are read back per batch, so fn may write to the index.
// Records deleted in between are skipped. Iteration stops on the first error
// from fn and between batches when ctx is cancelled.
func (it *RecordIterator) ForEach(ctx context.Context, fn func([]*core.VectorRecord) error) error {
	keys, err := it.Keys(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(keys); start += it.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+it.batchSize, len(keys))

		batch := make([]*core.VectorRecord, 0, end-start)
		for _, key := range keys[start:end] {
			record, err := it.index.Get(ctx, key)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			batch = append(batch, record)
		}
		if len(batch) == 0 {
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (it *RecordIterator) matches(record *core.VectorRecord) bool {
	for tag, want := range it.filter {
		if record.Tags[tag] != want {
			return false
		}
	}
	return true
}
