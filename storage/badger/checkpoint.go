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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

// CheckpointRepository keeps one run marker per processor.
type CheckpointRepository struct {
	backend *Backend
}

var _ storage.CheckpointRepository = (*CheckpointRepository)(nil)

func NewCheckpointRepository(backend *Backend) *CheckpointRepository {
	return &CheckpointRepository{backend: backend}
}

// SaveCheckpoint replaces the processor's marker and stamps UpdatedAt.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	if checkpoint.ProcessorType == "" {
		return fmt.Errorf("checkpoint processor type is required: %w", core.ErrMalformed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stamped := *checkpoint
	stamped.UpdatedAt = time.Now().UTC()
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeCheckpointKey(stamped.ProcessorType), storage.MarshalCheckpoint(&stamped)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return fmt.Errorf("saving %s checkpoint: %w", stamped.ProcessorType, err)
	}
	checkpoint.UpdatedAt = stamped.UpdatedAt
	return nil
}

// LoadCheckpoint returns nil, nil when the processor never ran.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, processorType string) (*core.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var checkpoint *core.Checkpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCheckpointKey(processorType))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			checkpoint, err = storage.UnmarshalCheckpoint(val)
			return err
		})
	}, false)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return checkpoint, err
}

// ListCheckpoints returns every stored marker ordered by processor type.
func (r *CheckpointRepository) ListCheckpoints(ctx context.Context) ([]*core.Checkpoint, error) {
	var checkpoints []*core.Checkpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeCheckpointScanPrefix()
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := iter.Item().Value(func(val []byte) error {
				checkpoint, err := storage.UnmarshalCheckpoint(val)
				if err != nil {
					return err
				}
				checkpoints = append(checkpoints, checkpoint)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return checkpoints, err
}
