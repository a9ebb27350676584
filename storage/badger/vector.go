package badger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

// VectorIndex implements storage.VectorIndex for BadgerDB. Records of a
// collection share a key prefix and are scanned brute force on query.
type VectorIndex struct {
	backend *Backend
	schema  core.IndexSchema
	prefix  []byte
	logger  *slog.Logger
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

type indexOptions struct {
	migrate bool
	logger  *slog.Logger
}

// IndexOption configures OpenVectorIndex.
type IndexOption func(*indexOptions)

// WithMigration lets the index open over a collection built with another
// model or dimension. The stored schema is replaced; records of the old
// dimension are skipped by Query until they are re-embedded.
func WithMigration() IndexOption {
	return func(o *indexOptions) {
		o.migrate = true
	}
}

// WithIndexLogger sets the logger.
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(o *indexOptions) {
		o.logger = logger
	}
}

// OpenVectorIndex opens the collection named by schema, creating it on
// first use. Opening a collection whose stored model or dimension differ
// from schema fails with storage.ErrSchemaMismatch unless WithMigration is
// given.
func OpenVectorIndex(backend *Backend, schema core.IndexSchema, opts ...IndexOption) (*VectorIndex, error) {
	o := indexOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if schema.Collection == "" || schema.Model == "" || schema.Dimension <= 0 {
		return nil, fmt.Errorf("collection, model and dimension are required: %w", core.ErrConfiguration)
	}

	logger := o.logger.With("component", "vector-index", "collection", schema.Collection)
	err := backend.WithTx(func(tx *badger.Txn) error {
		key := makeSchemaKey(schema.Collection)
		item, err := tx.Get(key)
		switch {
		case err == badger.ErrKeyNotFound:
			logger.Info("creating collection", "model", schema.Model, "dimension", schema.Dimension)
		case err != nil:
			return err
		default:
			var stored core.IndexSchema
			err = item.Value(func(val []byte) error {
				var err error
				stored, err = storage.UnmarshalSchema(val)
				return err
			})
			if err != nil {
				return err
			}
			if stored.Model != schema.Model || stored.Dimension != schema.Dimension {
				if !o.migrate {
					return fmt.Errorf("%w: collection %q holds %s/%d, configured %s/%d",
						storage.ErrSchemaMismatch, schema.Collection,
						stored.Model, stored.Dimension, schema.Model, schema.Dimension)
				}
				logger.Warn("migrating collection",
					"from_model", stored.Model, "from_dimension", stored.Dimension,
					"to_model", schema.Model, "to_dimension", schema.Dimension)
			}
		}
		if err := tx.Set(key, storage.MarshalSchema(schema)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}

	return &VectorIndex{
		backend: backend,
		schema:  schema,
		prefix:  makeVectorPrefix(schema.Collection),
		logger:  logger,
	}, nil
}

// Schema returns the collection schema.
func (v *VectorIndex) Schema() core.IndexSchema {
	return v.schema
}

// Close is a no-op; the backend is closed by its owner.
func (v *VectorIndex) Close() error {
	return nil
}

func (v *VectorIndex) validate(record *core.VectorRecord) error {
	if record.Key == "" {
		return fmt.Errorf("record key is required: %w", core.ErrMalformed)
	}
	if len(record.Vector) != v.schema.Dimension {
		return fmt.Errorf("%w: record %s has %d, collection expects %d",
			storage.ErrDimensionMismatch, record.Key, len(record.Vector), v.schema.Dimension)
	}
	for tag := range record.Tags {
		if !v.schema.Declares(tag) {
			return fmt.Errorf("%w: %q on record %s", storage.ErrUndeclaredTag, tag, record.Key)
		}
	}
	return nil
}

// Upsert writes records in one transaction, overwriting by key.
func (v *VectorIndex) Upsert(ctx context.Context, records ...*core.VectorRecord) error {
	for _, record := range records {
		if err := v.validate(record); err != nil {
			return err
		}
	}

	return v.backend.WithTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, record := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := v.guardRevision(tx, record); err != nil {
				return err
			}
			record.UpdatedAt = now
			if err := tx.Set(makeVectorKey(v.schema.Collection, record.Key), storage.MarshalVectorRecord(record)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// guardRevision rejects record when the index already holds a newer revision
// of its document, and deletes chunks of older revisions that the new
// revision no longer has.
func (v *VectorIndex) guardRevision(tx *badger.Txn, record *core.VectorRecord) error {
	if record.DocumentID == 0 || !strings.HasPrefix(record.Key, core.DocumentKeyPrefix(record.DocumentID)) {
		existing, err := v.read(tx, record.Key)
		if err != nil {
			return err
		}
		if existing != nil && existing.Revision > record.Revision {
			return fmt.Errorf("%w: %s has revision %d, got %d", storage.ErrStaleRevision, record.Key, existing.Revision, record.Revision)
		}
		return nil
	}

	_, err := v.prune(tx, record.DocumentID, record.Revision, record.ChunkCount)
	return err
}

// SupersedeDocument deletes every record of a document older than revision.
// It is how a revision that produced no chunks retires the previous one.
func (v *VectorIndex) SupersedeDocument(ctx context.Context, documentID core.ID, revision uint64) (int, error) {
	if documentID == 0 {
		return 0, fmt.Errorf("document id is required: %w", core.ErrMalformed)
	}
	var removed int
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if removed, err = v.prune(tx, documentID, revision, 0); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// prune deletes chunks of a document older than revision whose index is at
// or beyond count. It fails with ErrStaleRevision when any stored chunk is
// newer than revision.
func (v *VectorIndex) prune(tx *badger.Txn, documentID core.ID, revision uint64, count int) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeVectorKey(v.schema.Collection, core.DocumentKeyPrefix(documentID))
	iter := tx.NewIterator(opts)
	var prune [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		var existing *core.VectorRecord
		err := item.Value(func(val []byte) error {
			var err error
			existing, err = storage.UnmarshalVectorRecord(val)
			return err
		})
		if err != nil {
			iter.Close()
			return 0, err
		}
		if existing.Revision > revision {
			iter.Close()
			return 0, fmt.Errorf("%w: document %d is at revision %d, got %d",
				storage.ErrStaleRevision, documentID, existing.Revision, revision)
		}
		if existing.Revision < revision && existing.ChunkIndex >= count {
			prune = append(prune, item.KeyCopy(nil))
		}
	}
	iter.Close()

	for _, key := range prune {
		if err := tx.Delete(key); err != nil {
			return 0, err
		}
	}
	if len(prune) > 0 {
		v.logger.Debug("pruned superseded chunks", "document_id", documentID, "revision", revision, "count", len(prune))
	}
	return len(prune), nil
}

// Get retrieves a record by key.
func (v *VectorIndex) Get(ctx context.Context, key string) (*core.VectorRecord, error) {
	var record *core.VectorRecord
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		record, err = v.read(tx, key)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

func (v *VectorIndex) read(tx *badger.Txn, key string) (*core.VectorRecord, error) {
	item, err := tx.Get(makeVectorKey(v.schema.Collection, key))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var record *core.VectorRecord
	err = item.Value(func(val []byte) error {
		var err error
		record, err = storage.UnmarshalVectorRecord(val)
		return err
	})
	return record, err
}

// ForEach calls fn for every record in key order.
func (v *VectorIndex) ForEach(ctx context.Context, fn func(*core.VectorRecord) error) error {
	return v.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = v.prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record *core.VectorRecord
			err := iter.Item().Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalVectorRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(record); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// Count returns the number of records in the collection.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	count := 0
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = v.prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Query finds the records most similar to vector whose tags match filter.
// A limit <= 0 returns every match.
func (v *VectorIndex) Query(ctx context.Context, vector []float32, filter storage.Filter, limit int) ([]*core.SearchResult, error) {
	if len(vector) != v.schema.Dimension {
		return nil, fmt.Errorf("%w: query has %d, collection expects %d",
			storage.ErrDimensionMismatch, len(vector), v.schema.Dimension)
	}
	for tag := range filter {
		if !v.schema.Declares(tag) {
			return nil, fmt.Errorf("%w: filter on %q", storage.ErrUndeclaredTag, tag)
		}
	}

	var results []*core.SearchResult
	err := v.ForEach(ctx, func(record *core.VectorRecord) error {
		// Records awaiting re-embedding after a migration.
		if len(record.Vector) != v.schema.Dimension {
			return nil
		}
		for tag, want := range filter {
			if record.Tags[tag] != want {
				return nil
			}
		}
		results = append(results, &core.SearchResult{
			Record: record,
			Score:  cosine(vector, record.Vector),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortFunc(results, func(a, b *core.SearchResult) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return strings.Compare(a.Record.Key, b.Record.Key)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
