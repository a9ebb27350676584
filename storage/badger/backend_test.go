package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		dir     string
		wantErr error
	}{
		{name: "in memory", dir: ""},
		{name: "creates directory", dir: filepath.Join(t.TempDir(), "nested", "db")},
		{name: "path is a file", dir: file, wantErr: core.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := OpenBackend(tt.dir, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer backend.Close()
			assert.False(t, backend.IsClosed())
			if tt.dir != "" {
				assert.DirExists(t, tt.dir)
			}
		})
	}
}

func TestBackend_ClosedRejectsTransactions(t *testing.T) {
	backend, err := OpenBackend("", nil)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	err = backend.WithTx(func(tx *badger.Txn) error { return nil }, false)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, err, core.ErrTransient)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(badger.ErrKeyNotFound), core.ErrNotFound)
	assert.ErrorIs(t, translate(badger.ErrConflict), core.ErrTransient)
	assert.ErrorIs(t, translate(badger.ErrDBClosed), storage.ErrStorageClosed)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, cosine([]float32{1, 0}, []float32{1}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestStores_PersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	stores, err := OpenStores(dir, TestSchema, nil)
	require.NoError(t, err)
	_, _, err = stores.Documents.ReconcileDocument(ctx, storage.Observation{Path: "rules/core.pdf", ContentHash: "a"}, nil)
	require.NoError(t, err)
	require.NoError(t, stores.Close())

	stores, err = OpenStores(dir, TestSchema, nil)
	require.NoError(t, err)
	defer stores.Close()
	doc, err := stores.Documents.GetDocumentByPath(ctx, "rules/core.pdf")
	require.NoError(t, err)
	assert.Equal(t, "a", doc.ContentHash)
}
