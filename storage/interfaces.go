package storage

import (
	"context"
	"fmt"

	"github.com/poiesic/grimoire/core"
)

// ChangeKind classifies a scanned file against its stored metadata.
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	New
	Modified
)

func (k ChangeKind) String() string {
	switch k {
	case New:
		return "new"
	case Modified:
		return "modified"
	default:
		return "unchanged"
	}
}

// Observation is what the change detector saw for one file during a scan.
type Observation struct {
	Path        string
	RulesetID   string
	Kind        core.DocumentKind
	ContentHash string
}

// ChangeFunc is invoked for new and modified documents while the
// reconciliation transaction is open. Returning an error aborts the
// transaction so the stored hash is left untouched.
type ChangeFunc func(ctx context.Context, change ChangeKind, doc *core.DocumentMetadata) error

// DocumentRepository stores the change detector's per-file metadata.
// Implementations must be thread-safe.
type DocumentRepository interface {
	// GetDocumentByPath returns the metadata stored for a relative path.
	// Returns ErrNotFound if the path was never scanned.
	GetDocumentByPath(ctx context.Context, path string) (*core.DocumentMetadata, error)

	// ListDocuments returns every stored document ordered by path.
	ListDocuments(ctx context.Context) ([]*core.DocumentMetadata, error)

	// ReconcileDocument classifies obs against the stored record, calls
	// onChange for new and modified documents and persists the result, all
	// in one transaction. Unchanged documents only get LastScannedAt moved.
	ReconcileDocument(ctx context.Context, obs Observation, onChange ChangeFunc) (ChangeKind, *core.DocumentMetadata, error)

	Close() error
}

// Filter is an equality filter over declared record tags.
type Filter map[string]string

// VectorIndex is a keyed store of embedded records.
// Implementations must be thread-safe.
type VectorIndex interface {
	// Schema returns the collection schema the index was opened with.
	Schema() core.IndexSchema

	// Upsert inserts or overwrites records by key. Records carrying an older
	// revision than the stored record for the same key are rejected with
	// ErrStaleRevision. Chunks of an older revision beyond the new record's
	// ChunkCount are pruned.
	Upsert(ctx context.Context, records ...*core.VectorRecord) error

	// SupersedeDocument deletes every chunk of a document older than
	// revision and returns how many were removed. Fails with
	// ErrStaleRevision when the index already holds a newer revision.
	SupersedeDocument(ctx context.Context, documentID core.ID, revision uint64) (int, error)

	// Get returns a record by key or ErrNotFound.
	Get(ctx context.Context, key string) (*core.VectorRecord, error)

	// Query returns up to limit records most similar to vector whose tags
	// match filter, highest score first.
	Query(ctx context.Context, vector []float32, filter Filter, limit int) ([]*core.SearchResult, error)

	// ForEach calls fn for every record in key order. Iteration stops at the
	// first error.
	ForEach(ctx context.Context, fn func(*core.VectorRecord) error) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// BlobStore retains raw document binaries.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, error)
}

// CheckpointRepository persists processor checkpoints.
type CheckpointRepository interface {
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error
	// LoadCheckpoint returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, processorType string) (*core.Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]*core.Checkpoint, error)
}

// BlobKey returns the blob key of a document revision.
func BlobKey(documentID core.ID, revision uint64) string {
	return fmt.Sprintf("blob:%d:%d", documentID, revision)
}
