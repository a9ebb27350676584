package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (r *DocumentRepository) Close() error {
	return nil
}

// GetDocumentByPath retrieves document metadata by relative path.
func (r *DocumentRepository) GetDocumentByPath(ctx context.Context, path string) (*core.DocumentMetadata, error) {
	var doc *core.DocumentMetadata
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, makeDocumentKey(path))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

// ListDocuments returns every document ordered by path.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]*core.DocumentMetadata, error) {
	var docs []*core.DocumentMetadata
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeDocumentScanPrefix()
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := iter.Item().Value(func(val []byte) error {
				doc, err := storage.UnmarshalDocument(val)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return docs, err
}

// ReconcileDocument classifies obs against the stored metadata and persists
// the outcome. onChange runs inside the transaction; if it fails nothing is
// written so the next scan sees the change again.
func (r *DocumentRepository) ReconcileDocument(ctx context.Context, obs storage.Observation, onChange storage.ChangeFunc) (storage.ChangeKind, *core.DocumentMetadata, error) {
	change := storage.Unchanged
	var result *core.DocumentMetadata

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeDocumentKey(obs.Path)
		doc, err := readDocument(tx, key)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		change, doc = storage.Reconcile(doc, obs, now)

		if change != storage.Unchanged && onChange != nil {
			if err := onChange(ctx, change, doc); err != nil {
				return err
			}
		}

		if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
			return err
		}
		result = doc
		return tx.Commit()
	}, true)
	if err != nil {
		return storage.Unchanged, nil, err
	}
	return change, result, nil
}

func readDocument(tx *badger.Txn, key []byte) (*core.DocumentMetadata, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var doc *core.DocumentMetadata
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}
