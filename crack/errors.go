package crack

import (
	"fmt"

	"github.com/poiesic/grimoire/core"
)

var (
	// ErrUnsupportedFormat indicates a file extension with no extractor.
	ErrUnsupportedFormat = fmt.Errorf("unsupported document format: %w", core.ErrMalformed)

	// ErrCorruptDocument indicates the extractor could not parse the content.
	ErrCorruptDocument = fmt.Errorf("corrupt document: %w", core.ErrMalformed)

	// ErrEmptyDocument indicates extraction produced no text.
	ErrEmptyDocument = fmt.Errorf("document has no extractable text: %w", core.ErrMalformed)

	// ErrUnsafePath indicates a relative path that escapes the source root.
	ErrUnsafePath = fmt.Errorf("path escapes source root: %w", core.ErrMalformed)

	// ErrFileNotFound indicates the document is missing under every root.
	ErrFileNotFound = fmt.Errorf("document not found: %w", core.ErrNotFound)

	// ErrToolNotFound indicates an external extraction tool is not installed.
	ErrToolNotFound = fmt.Errorf("extraction tool not found: %w", core.ErrConfiguration)
)
