package badger

import (
	"errors"
	"log/slog"

	"github.com/poiesic/grimoire/core"
)

// Stores bundles every badger-backed store sharing one database.
type Stores struct {
	Backend     *Backend
	Documents   *DocumentRepository
	Index       *VectorIndex
	Blobs       *BlobStore
	Checkpoints *CheckpointRepository
}

// OpenStores opens the database at path (in memory when path is empty) and
// the collection described by schema.
func OpenStores(path string, schema core.IndexSchema, logger *slog.Logger, opts ...IndexOption) (*Stores, error) {
	backend, err := OpenBackend(path, logger)
	if err != nil {
		return nil, err
	}
	opts = append([]IndexOption{WithIndexLogger(logger)}, opts...)
	index, err := OpenVectorIndex(backend, schema, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &Stores{
		Backend:     backend,
		Documents:   NewDocumentRepository(backend),
		Index:       index,
		Blobs:       NewBlobStore(backend),
		Checkpoints: NewCheckpointRepository(backend),
	}, nil
}

// Close releases every store and closes the database.
func (s *Stores) Close() error {
	return errors.Join(
		s.Index.Close(),
		s.Documents.Close(),
		s.Backend.Close(),
	)
}
