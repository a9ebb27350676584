package badger

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/grimoire/storage"
)

// BlobStore implements storage.BlobStore for BadgerDB. A blob is a header
// holding its part count followed by parts of at most blobPartSize bytes.
type BlobStore struct {
	backend *Backend
}

var _ storage.BlobStore = (*BlobStore)(nil)

// NewBlobStore creates a new BlobStore.
func NewBlobStore(backend *Backend) *BlobStore {
	return &BlobStore{backend: backend}
}

// PutBlob stores data under key, replacing any previous blob.
func (s *BlobStore) PutBlob(ctx context.Context, key string, data []byte) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	wb := s.backend.NewWriteBatch()
	defer wb.Cancel()

	parts := 0
	for offset := 0; offset < len(data); offset += blobPartSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(offset+blobPartSize, len(data))
		if err := wb.Set(makeBlobPartKey(key, parts), data[offset:end]); err != nil {
			return translate(err)
		}
		parts++
	}
	// The header goes last so a reader never sees a partial blob.
	if err := wb.Set(makeBlobKey(key), binary.AppendUvarint(nil, uint64(parts))); err != nil {
		return translate(err)
	}
	return translate(wb.Flush())
}

// GetBlob returns the blob stored under key.
func (s *BlobStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeBlobKey(key))
		if err != nil {
			return err
		}
		var parts int
		err = item.Value(func(val []byte) error {
			n, size := binary.Uvarint(val)
			if size <= 0 {
				return fmt.Errorf("blob %s header: %w", key, storage.ErrTruncatedData)
			}
			parts = int(n)
			return nil
		})
		if err != nil {
			return err
		}
		for part := range parts {
			item, err := tx.Get(makeBlobPartKey(key, part))
			if err != nil {
				return fmt.Errorf("blob %s part %d: %w", key, part, err)
			}
			err = item.Value(func(val []byte) error {
				data = append(data, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return data, nil
}
