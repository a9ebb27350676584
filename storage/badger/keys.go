package badger

import (
	"fmt"
)

// Key prefixes for different data types
const (
	documentPrefix = "docmeta"
	vectorPrefix   = "vec"
	schemaPrefix   = "schema"
	blobPrefix     = "raw"
	chkptPrefix    = "chkpt"
)

// Blobs are split into parts small enough for a single transaction.
const blobPartSize = 1 << 20

// makeDocumentKey generates a key for document metadata by relative path.
func makeDocumentKey(path string) []byte {
	return []byte(fmt.Sprintf("%s:%s", documentPrefix, path))
}

func makeDocumentScanPrefix() []byte {
	return []byte(documentPrefix + ":")
}

// makeVectorPrefix generates the prefix shared by all records of a collection.
// Format: prefix:collection:
func makeVectorPrefix(collection string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", vectorPrefix, collection))
}

// makeVectorKey generates a key for a vector record.
// Format: prefix:collection:recordKey
func makeVectorKey(collection, key string) []byte {
	return append(makeVectorPrefix(collection), key...)
}

// makeSchemaKey generates a key for a collection's schema.
func makeSchemaKey(collection string) []byte {
	return []byte(fmt.Sprintf("%s:%s", schemaPrefix, collection))
}

// makeBlobKey generates the header key of a blob. Parts follow as
// prefix:key#part.
func makeBlobKey(key string) []byte {
	return []byte(fmt.Sprintf("%s:%s", blobPrefix, key))
}

func makeBlobPartKey(key string, part int) []byte {
	return []byte(fmt.Sprintf("%s:%s#%08d", blobPrefix, key, part))
}

// makeCheckpointKey generates a key for processor checkpoints.
func makeCheckpointKey(processorType string) []byte {
	return []byte(fmt.Sprintf("%s:%s", chkptPrefix, processorType))
}

func makeCheckpointScanPrefix() []byte {
	return []byte(chkptPrefix + ":")
}
