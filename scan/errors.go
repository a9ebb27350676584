package scan

import (
	"fmt"

	"github.com/poiesic/grimoire/core"
)

var (
	// ErrRootNotFound indicates a configured source root does not exist.
	ErrRootNotFound = fmt.Errorf("source root not found: %w", core.ErrNotFound)

	// ErrFileNotFound indicates a file vanished before it could be read.
	ErrFileNotFound = fmt.Errorf("file not found: %w", core.ErrNotFound)

	// ErrNoRoots indicates the detector was configured without roots.
	ErrNoRoots = fmt.Errorf("at least one source root is required: %w", core.ErrConfiguration)
)
