package badger

import (
	"bytes"
	"context"
	"testing"

	"github.com/poiesic/grimoire/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStore_RoundTrip(t *testing.T) {
	blobs := newTestStores(t).Blobs
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
	}{
		{"small", []byte("%PDF-1.7 tiny")},
		{"multi part", bytes.Repeat([]byte{0xAB, 0xCD}, blobPartSize+17)},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := storage.BlobKey(1, 1) + tt.name
			require.NoError(t, blobs.PutBlob(ctx, key, tt.data))
			got, err := blobs.GetBlob(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
			assert.True(t, bytes.Equal(tt.data, got))
		})
	}
}

func TestBlobStore_Missing(t *testing.T) {
	blobs := newTestStores(t).Blobs
	_, err := blobs.GetBlob(context.Background(), "blob:404:1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
